package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

const mirrorColumns = `id, canonical_event_id, target_account_id, target_calendar_id,
	provider_event_id, last_projected_hash, last_write_ts, state, error,
	attempt_count, next_retry_at, created_at, updated_at`

func insertMirror(ctx context.Context, q querier, m *types.EventMirror) error {
	ts := now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = ts
	}
	m.UpdatedAt = ts
	_, err := q.ExecContext(ctx, `
		INSERT INTO event_mirrors (`+mirrorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.CanonicalEventID, m.TargetAccountID, m.TargetCalendarID,
		m.ProviderEventID, m.LastProjectedHash, m.LastWriteTS, m.State, m.Error,
		m.AttemptCount, m.NextRetryAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return types.Conflictf("mirror for (%s, %s, %s) already exists",
				m.CanonicalEventID, m.TargetAccountID, m.TargetCalendarID)
		}
		return fmt.Errorf("failed to insert mirror: %w", err)
	}
	return nil
}

func updateMirror(ctx context.Context, q querier, m *types.EventMirror) error {
	m.UpdatedAt = now()
	res, err := q.ExecContext(ctx, `
		UPDATE event_mirrors SET
			provider_event_id = ?, last_projected_hash = ?, last_write_ts = ?,
			state = ?, error = ?, attempt_count = ?, next_retry_at = ?, updated_at = ?
		WHERE id = ?
	`,
		m.ProviderEventID, m.LastProjectedHash, m.LastWriteTS,
		m.State, m.Error, m.AttemptCount, m.NextRetryAt, m.UpdatedAt,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update mirror: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrNoRows
	}
	return nil
}

func scanMirror(row rowScanner) (*types.EventMirror, error) {
	var m types.EventMirror
	var providerEventID sql.NullString
	var lastWriteTS, nextRetryAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.CanonicalEventID, &m.TargetAccountID, &m.TargetCalendarID,
		&providerEventID, &m.LastProjectedHash, &lastWriteTS, &m.State, &m.Error,
		&m.AttemptCount, &nextRetryAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan mirror: %w", err)
	}
	if providerEventID.Valid {
		m.ProviderEventID = &providerEventID.String
	}
	if lastWriteTS.Valid {
		t := lastWriteTS.Time
		m.LastWriteTS = &t
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		m.NextRetryAt = &t
	}
	return &m, nil
}

func getMirrorByProviderEvent(ctx context.Context, q querier, targetAccountID, providerEventID string) (*types.EventMirror, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+mirrorColumns+` FROM event_mirrors
		WHERE target_account_id = ? AND provider_event_id = ?
		LIMIT 1
	`, targetAccountID, providerEventID)
	return scanMirror(row)
}

func getMirrorsForEvent(ctx context.Context, q querier, canonicalEventID string) ([]*types.EventMirror, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+mirrorColumns+" FROM event_mirrors WHERE canonical_event_id = ? ORDER BY id",
		canonicalEventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mirrors for event: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectMirrors(rows)
}

func collectMirrors(rows *sql.Rows) ([]*types.EventMirror, error) {
	var mirrors []*types.EventMirror
	for rows.Next() {
		m, err := scanMirror(rows)
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, m)
	}
	return mirrors, rows.Err()
}

// Store methods

func (s *Store) InsertMirror(ctx context.Context, m *types.EventMirror) error {
	return insertMirror(ctx, s.db, m)
}

func (s *Store) UpdateMirror(ctx context.Context, m *types.EventMirror) error {
	return updateMirror(ctx, s.db, m)
}

func (s *Store) GetMirrorsForEvent(ctx context.Context, canonicalEventID string) ([]*types.EventMirror, error) {
	return getMirrorsForEvent(ctx, s.db, canonicalEventID)
}

func (s *Store) GetMirrorByProviderEvent(ctx context.Context, targetAccountID, providerEventID string) (*types.EventMirror, error) {
	return getMirrorByProviderEvent(ctx, s.db, targetAccountID, providerEventID)
}

func (s *Store) GetMirror(ctx context.Context, id string) (*types.EventMirror, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+mirrorColumns+" FROM event_mirrors WHERE id = ?", id)
	return scanMirror(row)
}

func (s *Store) GetMirrorByKey(ctx context.Context, key types.MirrorKey) (*types.EventMirror, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+mirrorColumns+` FROM event_mirrors
		WHERE canonical_event_id = ? AND target_account_id = ? AND target_calendar_id = ?
	`, key.CanonicalEventID, key.TargetAccountID, key.TargetCalendarID)
	return scanMirror(row)
}

// ListMirrors applies the filter's set conditions; zero-value fields are
// ignored.
func (s *Store) ListMirrors(ctx context.Context, filter storage.MirrorFilter) ([]*types.EventMirror, error) {
	var conds []string
	var args []any
	if filter.CanonicalEventID != "" {
		conds = append(conds, "canonical_event_id = ?")
		args = append(args, filter.CanonicalEventID)
	}
	if filter.TargetAccountID != "" {
		conds = append(conds, "target_account_id = ?")
		args = append(args, filter.TargetAccountID)
	}
	if len(filter.States) > 0 {
		placeholders := strings.Repeat("?,", len(filter.States))
		conds = append(conds, "state IN ("+placeholders[:len(placeholders)-1]+")")
		for _, st := range filter.States {
			args = append(args, st)
		}
	}
	if filter.DueBefore != nil {
		conds = append(conds, "(next_retry_at IS NULL OR next_retry_at <= ?)")
		args = append(args, *filter.DueBefore)
	}

	query := "SELECT " + mirrorColumns + " FROM event_mirrors"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mirrors: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectMirrors(rows)
}

// CompareAndSwapMirrorState transitions state atomically. Returns false when
// the row is no longer in the from state, which is how concurrent writers on
// the same mirror serialize.
func (s *Store) CompareAndSwapMirrorState(ctx context.Context, id string, from, to types.MirrorState) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE event_mirrors SET state = ?, updated_at = ? WHERE id = ? AND state = ?",
		to, now(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to swap mirror state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// UpdateMirrorWriteState writes only the columns the writer owns, guarded on
// the from state. The projection hash stays whatever reconcile last stored.
func (s *Store) UpdateMirrorWriteState(ctx context.Context, m *types.EventMirror, from types.MirrorState) (bool, error) {
	m.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE event_mirrors SET
			state = ?, provider_event_id = ?, last_write_ts = ?,
			error = ?, attempt_count = ?, next_retry_at = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`,
		m.State, m.ProviderEventID, m.LastWriteTS,
		m.Error, m.AttemptCount, m.NextRetryAt, m.UpdatedAt,
		m.ID, from,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update mirror write state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (s *Store) CountMirrorsByState(ctx context.Context) (map[types.MirrorState]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM event_mirrors GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("failed to count mirrors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[types.MirrorState]int)
	for rows.Next() {
		var state types.MirrorState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan mirror count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// Tx methods

func (t *storeTx) InsertMirror(ctx context.Context, m *types.EventMirror) error {
	return insertMirror(ctx, t.tx, m)
}

func (t *storeTx) UpdateMirror(ctx context.Context, m *types.EventMirror) error {
	return updateMirror(ctx, t.tx, m)
}

func (t *storeTx) GetMirrorsForEvent(ctx context.Context, canonicalEventID string) ([]*types.EventMirror, error) {
	return getMirrorsForEvent(ctx, t.tx, canonicalEventID)
}

func (t *storeTx) GetMirrorByProviderEvent(ctx context.Context, targetAccountID, providerEventID string) (*types.EventMirror, error) {
	return getMirrorByProviderEvent(ctx, t.tx, targetAccountID, providerEventID)
}
