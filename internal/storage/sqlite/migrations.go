// Package sqlite - database migrations
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/tminus/tminus/internal/storage/sqlite/migrations"
)

// Migration is a single named, forward-only, idempotent schema change.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList runs in order during store initialization. Every entry must
// be safe to re-apply: databases created before a migration was written get
// the change, fresh databases get it from schema.go and the migration
// no-ops.
var migrationsList = []Migration{
	{"relationship_city_column", migrations.MigrateRelationshipCityColumn},
	{"hold_candidate_column", migrations.MigrateHoldCandidateColumn},
	{"mirror_retry_index", migrations.MigrateMirrorRetryIndex},
	{"journal_event_index", migrations.MigrateJournalEventIndex},
}

// RunMigrations applies every pending migration inside its own transaction
// and records it in schema_migrations.
func RunMigrations(db *sql.DB) error {
	for _, m := range migrationsList {
		applied, err := migrationApplied(db, m.Name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %q failed: %w", m.Name, err)
		}
		if _, err := db.Exec(
			"INSERT OR IGNORE INTO schema_migrations (name) VALUES (?)", m.Name,
		); err != nil {
			return fmt.Errorf("failed to record migration %q: %w", m.Name, err)
		}
	}
	return nil
}

func migrationApplied(db *sql.DB, name string) (bool, error) {
	var found string
	err := db.QueryRow("SELECT name FROM schema_migrations WHERE name = ?", name).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check migration %q: %w", name, err)
	}
	return true, nil
}

// AppliedMigrations returns the recorded migration names in apply order.
func AppliedMigrations(db *sql.DB) ([]string, error) {
	rows, err := db.Query("SELECT name FROM schema_migrations ORDER BY applied_at, name")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan migration name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
