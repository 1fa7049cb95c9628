package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

const edgeColumns = `id, source_account_id, target_account_id, target_calendar_id,
	detail_level, active_from, active_to, created_at`

func (s *Store) InsertPolicyEdge(ctx context.Context, e *types.PolicyEdge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policy_edges (`+edgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.SourceAccountID, e.TargetAccountID, e.TargetCalendarID,
		e.DetailLevel, e.ActiveFrom, e.ActiveTo, e.CreatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return types.Conflictf("policy edge %s already exists", e.ID)
		}
		return fmt.Errorf("failed to insert policy edge: %w", err)
	}
	return nil
}

func (s *Store) DeletePolicyEdge(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM policy_edges WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete policy edge: %w", err)
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

func scanPolicyEdge(row rowScanner) (*types.PolicyEdge, error) {
	var e types.PolicyEdge
	err := row.Scan(
		&e.ID, &e.SourceAccountID, &e.TargetAccountID, &e.TargetCalendarID,
		&e.DetailLevel, &e.ActiveFrom, &e.ActiveTo, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan policy edge: %w", err)
	}
	return &e, nil
}

func (s *Store) listEdges(ctx context.Context, query string, args ...any) ([]*types.PolicyEdge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []*types.PolicyEdge
	for rows.Next() {
		e, err := scanPolicyEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *Store) ListPolicyEdges(ctx context.Context) ([]*types.PolicyEdge, error) {
	return s.listEdges(ctx, "SELECT "+edgeColumns+" FROM policy_edges ORDER BY id")
}

func (s *Store) ListPolicyEdgesForSource(ctx context.Context, sourceAccountID string) ([]*types.PolicyEdge, error) {
	return s.listEdges(ctx,
		"SELECT "+edgeColumns+" FROM policy_edges WHERE source_account_id = ? ORDER BY id",
		sourceAccountID)
}
