package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateJournalEventIndex covers journal lookups by event and time, used by
// debug trails and idempotency checks.
func MigrateJournalEventIndex(db *sql.DB) error {
	if _, err := db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_journal_event_ts ON journal(canonical_event_id, ts)",
	); err != nil {
		return fmt.Errorf("failed to create journal index: %w", err)
	}
	return nil
}
