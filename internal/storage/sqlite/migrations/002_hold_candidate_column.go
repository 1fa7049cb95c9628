package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateHoldCandidateColumn adds holds.candidate_id linking each hold back
// to the session candidate it reserves.
func MigrateHoldCandidateColumn(db *sql.DB) error {
	exists, err := columnExists(db, "holds", "candidate_id")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := db.Exec("ALTER TABLE holds ADD COLUMN candidate_id TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("failed to add candidate_id column: %w", err)
	}
	return nil
}
