package sqlite

import (
	"context"
	"fmt"

	"github.com/tminus/tminus/internal/types"
)

func appendJournal(ctx context.Context, q querier, entry *types.JournalEntry) error {
	if entry.TS.IsZero() {
		entry.TS = now()
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO journal (canonical_event_id, change_type, actor, patch, ts)
		VALUES (?, ?, ?, ?, ?)
	`, entry.CanonicalEventID, entry.ChangeType, entry.Actor, entry.Patch, entry.TS)
	if err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get journal seq: %w", err)
	}
	entry.Seq = seq
	return nil
}

func (s *Store) AppendJournal(ctx context.Context, entry *types.JournalEntry) error {
	return appendJournal(ctx, s.db, entry)
}

func (t *storeTx) AppendJournal(ctx context.Context, entry *types.JournalEntry) error {
	return appendJournal(ctx, t.tx, entry)
}

// GetJournal returns the change history for an event, newest first.
func (s *Store) GetJournal(ctx context.Context, canonicalEventID string, limit int) ([]*types.JournalEntry, error) {
	args := []any{canonicalEventID}
	limitSQL := ""
	if limit > 0 {
		limitSQL = " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, canonical_event_id, change_type, actor, patch, ts
		FROM journal
		WHERE canonical_event_id = ?
		ORDER BY seq DESC
	`+limitSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.JournalEntry
	for rows.Next() {
		var e types.JournalEntry
		if err := rows.Scan(&e.Seq, &e.CanonicalEventID, &e.ChangeType, &e.Actor, &e.Patch, &e.TS); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
