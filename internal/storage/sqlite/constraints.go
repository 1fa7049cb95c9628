package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

const constraintColumns = `id, kind, config_json, active_from, active_to, created_at, updated_at`

func (s *Store) InsertConstraint(ctx context.Context, c *types.Constraint) error {
	if err := types.ValidateConstraintConfig(c.Kind, c.Config); err != nil {
		return err
	}
	ts := now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = ts
	}
	c.UpdatedAt = ts
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO constraints (`+constraintColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Kind, c.Config, c.ActiveFrom, c.ActiveTo, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return types.Conflictf("constraint %s already exists", c.ID)
		}
		return fmt.Errorf("failed to insert constraint: %w", err)
	}
	return nil
}

func (s *Store) UpdateConstraint(ctx context.Context, c *types.Constraint) error {
	if err := types.ValidateConstraintConfig(c.Kind, c.Config); err != nil {
		return err
	}
	c.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE constraints SET config_json = ?, active_from = ?, active_to = ?, updated_at = ?
		WHERE id = ?
	`, c.Config, c.ActiveFrom, c.ActiveTo, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update constraint: %w", err)
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

func (s *Store) DeleteConstraint(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM constraints WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete constraint: %w", err)
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

func scanConstraint(row rowScanner) (*types.Constraint, error) {
	var c types.Constraint
	err := row.Scan(&c.ID, &c.Kind, &c.Config, &c.ActiveFrom, &c.ActiveTo, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan constraint: %w", err)
	}
	return &c, nil
}

func (s *Store) GetConstraint(ctx context.Context, id string) (*types.Constraint, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+constraintColumns+" FROM constraints WHERE id = ?", id)
	c, err := scanConstraint(row)
	if err != nil {
		return nil, err
	}
	// Older rows may predate schema tightening; re-validate on read.
	if err := types.ValidateConstraintConfig(c.Kind, c.Config); err != nil {
		return nil, err
	}
	return c, nil
}

// ListConstraints returns constraints, optionally filtered by kind. Rows
// whose config no longer validates are skipped rather than failing the whole
// listing.
func (s *Store) ListConstraints(ctx context.Context, kind types.ConstraintKind) ([]*types.Constraint, error) {
	query := "SELECT " + constraintColumns + " FROM constraints"
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list constraints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var constraints []*types.Constraint
	for rows.Next() {
		c, err := scanConstraint(rows)
		if err != nil {
			return nil, err
		}
		if types.ValidateConstraintConfig(c.Kind, c.Config) != nil {
			continue
		}
		constraints = append(constraints, c)
	}
	return constraints, rows.Err()
}
