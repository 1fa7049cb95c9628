package migrations

import (
	"database/sql"
	"fmt"
)

// MigrateMirrorRetryIndex adds the composite index the writer's due-job scan
// uses. CREATE INDEX IF NOT EXISTS keeps re-apply safe.
func MigrateMirrorRetryIndex(db *sql.DB) error {
	if _, err := db.Exec(
		"CREATE INDEX IF NOT EXISTS idx_event_mirrors_retry ON event_mirrors(state, next_retry_at)",
	); err != nil {
		return fmt.Errorf("failed to create mirror retry index: %w", err)
	}
	return nil
}
