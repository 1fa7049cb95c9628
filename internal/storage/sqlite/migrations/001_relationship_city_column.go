// Package migrations holds forward-only, idempotent schema migrations.
package migrations

import (
	"database/sql"
	"fmt"
)

// columnExists checks PRAGMA table_info for a named column.
func columnExists(db *sql.DB, table, column string) (exists bool, retErr error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to check schema: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && retErr == nil {
			retErr = fmt.Errorf("failed to close schema rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dflt *string
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("failed to scan column info: %w", err)
		}
		if name == column {
			return true, rows.Err()
		}
	}
	return false, rows.Err()
}

// MigrateRelationshipCityColumn adds relationships.city for geo reconnection
// suggestions. Databases created from the current schema already have it.
func MigrateRelationshipCityColumn(db *sql.DB) error {
	exists, err := columnExists(db, "relationships", "city")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := db.Exec("ALTER TABLE relationships ADD COLUMN city TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("failed to add city column: %w", err)
	}
	return nil
}
