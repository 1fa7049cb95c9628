package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

const sessionColumns = `id, title, duration_minutes, status, candidates,
	selected_candidate_id, created_at, expires_at, updated_at`

func insertSession(ctx context.Context, q querier, s *types.SchedulingSession) error {
	ts := now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = ts
	}
	s.UpdatedAt = ts
	candidates, err := json.Marshal(s.Candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO scheduling_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.Title, s.DurationMinutes, s.Status, string(candidates),
		s.SelectedCandidateID, s.CreatedAt, s.ExpiresAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return types.Conflictf("session %s already exists", s.ID)
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func updateSession(ctx context.Context, q querier, s *types.SchedulingSession) error {
	s.UpdatedAt = now()
	candidates, err := json.Marshal(s.Candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE scheduling_sessions SET
			title = ?, duration_minutes = ?, status = ?, candidates = ?,
			selected_candidate_id = ?, expires_at = ?, updated_at = ?
		WHERE id = ?
	`,
		s.Title, s.DurationMinutes, s.Status, string(candidates),
		s.SelectedCandidateID, s.ExpiresAt, s.UpdatedAt,
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
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

func scanSession(row rowScanner) (*types.SchedulingSession, error) {
	var s types.SchedulingSession
	var candidates string
	var selected sql.NullString
	err := row.Scan(
		&s.ID, &s.Title, &s.DurationMinutes, &s.Status, &candidates,
		&selected, &s.CreatedAt, &s.ExpiresAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(candidates), &s.Candidates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal candidates for session %s: %w", s.ID, err)
	}
	if selected.Valid {
		s.SelectedCandidateID = &selected.String
	}
	return &s, nil
}

func (s *Store) InsertSession(ctx context.Context, sess *types.SchedulingSession) error {
	return insertSession(ctx, s.db, sess)
}

func (s *Store) UpdateSession(ctx context.Context, sess *types.SchedulingSession) error {
	return updateSession(ctx, s.db, sess)
}

func (t *storeTx) InsertSession(ctx context.Context, sess *types.SchedulingSession) error {
	return insertSession(ctx, t.tx, sess)
}

func (t *storeTx) UpdateSession(ctx context.Context, sess *types.SchedulingSession) error {
	return updateSession(ctx, t.tx, sess)
}

func (s *Store) GetSession(ctx context.Context, id string) (*types.SchedulingSession, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM scheduling_sessions WHERE id = ?", id)
	return scanSession(row)
}

func (s *Store) ListSessions(ctx context.Context, filter storage.SessionFilter) ([]*types.SchedulingSession, error) {
	query := "SELECT " + sessionColumns + " FROM scheduling_sessions"
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.SchedulingSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Holds

const holdColumns = `id, session_id, candidate_id, target_account_id, target_calendar_id,
	provider_event_id, start_ts, end_ts, status, expires_at, created_at, updated_at`

func insertHold(ctx context.Context, q querier, h *types.Hold) error {
	ts := now()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = ts
	}
	h.UpdatedAt = ts
	_, err := q.ExecContext(ctx, `
		INSERT INTO holds (`+holdColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		h.ID, h.SessionID, h.CandidateID, h.TargetAccountID, h.TargetCalendarID,
		h.ProviderEventID, h.Start, h.End, h.Status, h.ExpiresAt, h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return types.Conflictf("hold %s already exists", h.ID)
		}
		return fmt.Errorf("failed to insert hold: %w", err)
	}
	return nil
}

func updateHold(ctx context.Context, q querier, h *types.Hold) error {
	h.UpdatedAt = now()
	res, err := q.ExecContext(ctx, `
		UPDATE holds SET
			provider_event_id = ?, status = ?, expires_at = ?, updated_at = ?
		WHERE id = ?
	`, h.ProviderEventID, h.Status, h.ExpiresAt, h.UpdatedAt, h.ID)
	if err != nil {
		return fmt.Errorf("failed to update hold: %w", err)
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

func scanHold(row rowScanner) (*types.Hold, error) {
	var h types.Hold
	var providerEventID sql.NullString
	err := row.Scan(
		&h.ID, &h.SessionID, &h.CandidateID, &h.TargetAccountID, &h.TargetCalendarID,
		&providerEventID, &h.Start, &h.End, &h.Status, &h.ExpiresAt, &h.CreatedAt, &h.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan hold: %w", err)
	}
	if providerEventID.Valid {
		h.ProviderEventID = &providerEventID.String
	}
	return &h, nil
}

func getHoldsBySession(ctx context.Context, q querier, sessionID string) ([]*types.Hold, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+holdColumns+" FROM holds WHERE session_id = ? ORDER BY id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holds for session: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectHolds(rows)
}

func collectHolds(rows *sql.Rows) ([]*types.Hold, error) {
	var holds []*types.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

func (s *Store) InsertHold(ctx context.Context, h *types.Hold) error {
	return insertHold(ctx, s.db, h)
}

func (s *Store) UpdateHold(ctx context.Context, h *types.Hold) error {
	return updateHold(ctx, s.db, h)
}

func (s *Store) GetHoldsBySession(ctx context.Context, sessionID string) ([]*types.Hold, error) {
	return getHoldsBySession(ctx, s.db, sessionID)
}

func (t *storeTx) InsertHold(ctx context.Context, h *types.Hold) error {
	return insertHold(ctx, t.tx, h)
}

func (t *storeTx) UpdateHold(ctx context.Context, h *types.Hold) error {
	return updateHold(ctx, t.tx, h)
}

func (t *storeTx) GetHoldsBySession(ctx context.Context, sessionID string) ([]*types.Hold, error) {
	return getHoldsBySession(ctx, t.tx, sessionID)
}

// ListExpiredHolds returns non-terminal holds whose expiry has passed. The
// sweeper releases these and expires any session left with no live holds.
func (s *Store) ListExpiredHolds(ctx context.Context, now time.Time) ([]*types.Hold, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+holdColumns+` FROM holds
		WHERE status IN ('pending', 'confirmed') AND expires_at <= ?
		ORDER BY expires_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired holds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectHolds(rows)
}
