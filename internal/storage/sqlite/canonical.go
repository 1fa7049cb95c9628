package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

// normStartExpr/normEndExpr expand date-only values to midnight UTC inside
// SQL so date-only and datetime strings compare coherently.
const (
	normStartExpr = "CASE WHEN length(start_ts) = 10 THEN start_ts || 'T00:00:00Z' ELSE start_ts END"
	normEndExpr   = "CASE WHEN length(end_ts) = 10 THEN end_ts || 'T00:00:00Z' ELSE end_ts END"
)

// isUniqueConstraintError detects a UNIQUE violation from the driver.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

const canonicalEventColumns = `id, origin_account_id, origin_event_id, title, description, location,
	start_ts, end_ts, timezone, all_day, status, visibility, transparency,
	recurrence_rule, source, version, constraint_id, created_at, updated_at`

func insertCanonicalEvent(ctx context.Context, q querier, e *types.CanonicalEvent) error {
	ts := now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = ts
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = ts
	}
	if e.Version == 0 {
		e.Version = 1
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO canonical_events (`+canonicalEventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.OriginAccountID, e.OriginEventID, e.Title, e.Description, e.Location,
		e.Start, e.End, e.Timezone, boolToInt(e.AllDay), e.Status, e.Visibility, e.Transparency,
		e.RecurrenceRule, e.Source, e.Version, e.ConstraintID, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return types.Conflictf("event for (%s, %s) already exists", e.OriginAccountID, e.OriginEventID)
		}
		return fmt.Errorf("failed to insert canonical event: %w", err)
	}
	return nil
}

func updateCanonicalEvent(ctx context.Context, q querier, e *types.CanonicalEvent) error {
	e.UpdatedAt = now()
	res, err := q.ExecContext(ctx, `
		UPDATE canonical_events SET
			title = ?, description = ?, location = ?, start_ts = ?, end_ts = ?,
			timezone = ?, all_day = ?, status = ?, visibility = ?, transparency = ?,
			recurrence_rule = ?, source = ?, version = ?, constraint_id = ?, updated_at = ?
		WHERE id = ?
	`,
		e.Title, e.Description, e.Location, e.Start, e.End,
		e.Timezone, boolToInt(e.AllDay), e.Status, e.Visibility, e.Transparency,
		e.RecurrenceRule, e.Source, e.Version, e.ConstraintID, e.UpdatedAt,
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update canonical event: %w", err)
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

func removeCanonicalEvent(ctx context.Context, q querier, id string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM canonical_events WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to remove canonical event: %w", err)
	}
	return nil
}

func detachConstraint(ctx context.Context, q querier, constraintID string) error {
	if _, err := q.ExecContext(ctx,
		"UPDATE canonical_events SET constraint_id = NULL, updated_at = ? WHERE constraint_id = ?",
		now(), constraintID,
	); err != nil {
		return fmt.Errorf("failed to detach constraint: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCanonicalEvent(row rowScanner) (*types.CanonicalEvent, error) {
	var e types.CanonicalEvent
	var allDay int
	var constraintID sql.NullString
	err := row.Scan(
		&e.ID, &e.OriginAccountID, &e.OriginEventID, &e.Title, &e.Description, &e.Location,
		&e.Start, &e.End, &e.Timezone, &allDay, &e.Status, &e.Visibility, &e.Transparency,
		&e.RecurrenceRule, &e.Source, &e.Version, &constraintID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan canonical event: %w", err)
	}
	e.AllDay = allDay != 0
	if constraintID.Valid {
		e.ConstraintID = &constraintID.String
	}
	return &e, nil
}

func getCanonicalEvent(ctx context.Context, q querier, id string) (*types.CanonicalEvent, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+canonicalEventColumns+" FROM canonical_events WHERE id = ?", id)
	return scanCanonicalEvent(row)
}

func getCanonicalEventByOrigin(ctx context.Context, q querier, originAccountID, originEventID string) (*types.CanonicalEvent, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+canonicalEventColumns+" FROM canonical_events WHERE origin_account_id = ? AND origin_event_id = ?",
		originAccountID, originEventID)
	return scanCanonicalEvent(row)
}

func listCanonicalEvents(ctx context.Context, q querier, query string, args ...any) ([]*types.CanonicalEvent, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list canonical events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.CanonicalEvent
	for rows.Next() {
		e, err := scanCanonicalEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Store methods

func (s *Store) InsertCanonicalEvent(ctx context.Context, e *types.CanonicalEvent) error {
	return insertCanonicalEvent(ctx, s.db, e)
}

func (s *Store) UpdateCanonicalEvent(ctx context.Context, e *types.CanonicalEvent) error {
	return updateCanonicalEvent(ctx, s.db, e)
}

func (s *Store) RemoveCanonicalEvent(ctx context.Context, id string) error {
	return removeCanonicalEvent(ctx, s.db, id)
}

func (s *Store) DetachConstraint(ctx context.Context, constraintID string) error {
	return detachConstraint(ctx, s.db, constraintID)
}

func (s *Store) GetCanonicalEvent(ctx context.Context, id string) (*types.CanonicalEvent, error) {
	return getCanonicalEvent(ctx, s.db, id)
}

func (s *Store) GetCanonicalEventByOrigin(ctx context.Context, originAccountID, originEventID string) (*types.CanonicalEvent, error) {
	return getCanonicalEventByOrigin(ctx, s.db, originAccountID, originEventID)
}

// ListCanonicalEventsInRange returns events overlapping [start, end), ordered
// by start. Bounds are ISO strings; date-only values are normalized on both
// sides of the comparison.
func (s *Store) ListCanonicalEventsInRange(ctx context.Context, start, end string) ([]*types.CanonicalEvent, error) {
	return listCanonicalEvents(ctx, s.db, `
		SELECT `+canonicalEventColumns+` FROM canonical_events
		WHERE `+normStartExpr+` < ? AND `+normEndExpr+` > ?
		ORDER BY `+normStartExpr,
		types.NormalizeTS(end), types.NormalizeTS(start))
}

func (s *Store) ListCanonicalEventsByConstraint(ctx context.Context, constraintID string) ([]*types.CanonicalEvent, error) {
	return listCanonicalEvents(ctx, s.db,
		"SELECT "+canonicalEventColumns+" FROM canonical_events WHERE constraint_id = ?",
		constraintID)
}

func (s *Store) CountCanonicalEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM canonical_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count canonical events: %w", err)
	}
	return n, nil
}

// Tx methods

func (t *storeTx) InsertCanonicalEvent(ctx context.Context, e *types.CanonicalEvent) error {
	return insertCanonicalEvent(ctx, t.tx, e)
}

func (t *storeTx) UpdateCanonicalEvent(ctx context.Context, e *types.CanonicalEvent) error {
	return updateCanonicalEvent(ctx, t.tx, e)
}

func (t *storeTx) RemoveCanonicalEvent(ctx context.Context, id string) error {
	return removeCanonicalEvent(ctx, t.tx, id)
}

func (t *storeTx) DetachConstraint(ctx context.Context, constraintID string) error {
	return detachConstraint(ctx, t.tx, constraintID)
}

func (t *storeTx) GetCanonicalEvent(ctx context.Context, id string) (*types.CanonicalEvent, error) {
	return getCanonicalEvent(ctx, t.tx, id)
}

func (t *storeTx) GetCanonicalEventByOrigin(ctx context.Context, originAccountID, originEventID string) (*types.CanonicalEvent, error) {
	return getCanonicalEventByOrigin(ctx, t.tx, originAccountID, originEventID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
