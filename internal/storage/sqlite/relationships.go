package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

const relationshipColumns = `id, participant_hash, display_name, email, city, tier,
	last_interaction_ts, created_at, updated_at`

func (s *Store) InsertRelationship(ctx context.Context, r *types.Relationship) error {
	ts := now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = ts
	}
	r.UpdatedAt = ts
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (`+relationshipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.ParticipantHash, r.DisplayName, r.Email, r.City, r.Tier,
		r.LastInteractionTS, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return types.Conflictf("relationship for participant %s already exists", r.ParticipantHash)
		}
		return fmt.Errorf("failed to insert relationship: %w", err)
	}
	return nil
}

func (s *Store) UpdateRelationship(ctx context.Context, r *types.Relationship) error {
	r.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE relationships SET display_name = ?, email = ?, city = ?, tier = ?,
			last_interaction_ts = ?, updated_at = ?
		WHERE id = ?
	`, r.DisplayName, r.Email, r.City, r.Tier, r.LastInteractionTS, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update relationship: %w", err)
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

func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM relationships WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
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

func scanRelationship(row rowScanner) (*types.Relationship, error) {
	var r types.Relationship
	var lastTS sql.NullTime
	err := row.Scan(
		&r.ID, &r.ParticipantHash, &r.DisplayName, &r.Email, &r.City, &r.Tier,
		&lastTS, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan relationship: %w", err)
	}
	if lastTS.Valid {
		t := lastTS.Time
		r.LastInteractionTS = &t
	}
	return &r, nil
}

func (s *Store) GetRelationship(ctx context.Context, id string) (*types.Relationship, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+relationshipColumns+" FROM relationships WHERE id = ?", id)
	return scanRelationship(row)
}

func (s *Store) GetRelationshipByHash(ctx context.Context, participantHash string) (*types.Relationship, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+relationshipColumns+" FROM relationships WHERE participant_hash = ?", participantHash)
	return scanRelationship(row)
}

func (s *Store) ListRelationships(ctx context.Context) ([]*types.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+relationshipColumns+" FROM relationships ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rels []*types.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

func touchRelationshipInteraction(ctx context.Context, q querier, participantHash string, ts time.Time) error {
	// Known participants only; unknown hashes are not auto-created.
	if _, err := q.ExecContext(ctx, `
		UPDATE relationships
		SET last_interaction_ts = MAX(COALESCE(last_interaction_ts, '0001-01-01'), ?), updated_at = ?
		WHERE participant_hash = ?
	`, ts, now(), participantHash); err != nil {
		return fmt.Errorf("failed to touch relationship interaction: %w", err)
	}
	return nil
}

func (s *Store) TouchRelationshipInteraction(ctx context.Context, participantHash string, ts time.Time) error {
	return touchRelationshipInteraction(ctx, s.db, participantHash, ts)
}

func (t *storeTx) TouchRelationshipInteraction(ctx context.Context, participantHash string, ts time.Time) error {
	return touchRelationshipInteraction(ctx, t.tx, participantHash, ts)
}

// Ledger

func (s *Store) AppendLedger(ctx context.Context, entry *types.LedgerEntry) error {
	if entry.TS.IsZero() {
		entry.TS = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger (id, participant_hash, kind, canonical_event_id, note, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.ParticipantHash, entry.Kind, entry.CanonicalEventID, entry.Note, entry.TS)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (s *Store) ListLedger(ctx context.Context, participantHash string, limit int) ([]*types.LedgerEntry, error) {
	args := []any{participantHash}
	limitSQL := ""
	if limit > 0 {
		limitSQL = " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, participant_hash, kind, canonical_event_id, note, ts
		FROM ledger
		WHERE participant_hash = ?
		ORDER BY ts DESC
	`+limitSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.LedgerEntry
	for rows.Next() {
		var e types.LedgerEntry
		if err := rows.Scan(&e.ID, &e.ParticipantHash, &e.Kind, &e.CanonicalEventID, &e.Note, &e.TS); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Milestones

func (s *Store) InsertMilestone(ctx context.Context, m *types.Milestone) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO milestones (id, participant_hash, title, date, recurring, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.ID, m.ParticipantHash, m.Title, m.Date, boolToInt(m.Recurring), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert milestone: %w", err)
	}
	return nil
}

func (s *Store) DeleteMilestone(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM milestones WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete milestone: %w", err)
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

func (s *Store) ListMilestones(ctx context.Context) ([]*types.Milestone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, participant_hash, title, date, recurring, created_at
		FROM milestones ORDER BY date
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var milestones []*types.Milestone
	for rows.Next() {
		var m types.Milestone
		var recurring int
		if err := rows.Scan(&m.ID, &m.ParticipantHash, &m.Title, &m.Date, &recurring, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		m.Recurring = recurring != 0
		milestones = append(milestones, &m)
	}
	return milestones, rows.Err()
}

// Event participants

func replaceEventParticipants(ctx context.Context, q querier, canonicalEventID string, ps []types.EventParticipant) error {
	if _, err := q.ExecContext(ctx,
		"DELETE FROM event_participants WHERE canonical_event_id = ?", canonicalEventID); err != nil {
		return fmt.Errorf("failed to clear event participants: %w", err)
	}
	for _, p := range ps {
		if _, err := q.ExecContext(ctx, `
			INSERT OR REPLACE INTO event_participants
				(canonical_event_id, participant_hash, email, display_name, response)
			VALUES (?, ?, ?, ?, ?)
		`, canonicalEventID, p.ParticipantHash, p.Email, p.DisplayName, p.Response); err != nil {
			return fmt.Errorf("failed to insert event participant: %w", err)
		}
	}
	return nil
}

func (s *Store) ReplaceEventParticipants(ctx context.Context, canonicalEventID string, ps []types.EventParticipant) error {
	return replaceEventParticipants(ctx, s.db, canonicalEventID, ps)
}

func (t *storeTx) ReplaceEventParticipants(ctx context.Context, canonicalEventID string, ps []types.EventParticipant) error {
	return replaceEventParticipants(ctx, t.tx, canonicalEventID, ps)
}

func (s *Store) GetEventParticipants(ctx context.Context, canonicalEventID string) ([]types.EventParticipant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT canonical_event_id, participant_hash, email, display_name, response
		FROM event_participants WHERE canonical_event_id = ?
		ORDER BY participant_hash
	`, canonicalEventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ps []types.EventParticipant
	for rows.Next() {
		var p types.EventParticipant
		if err := rows.Scan(&p.CanonicalEventID, &p.ParticipantHash, &p.Email, &p.DisplayName, &p.Response); err != nil {
			return nil, fmt.Errorf("failed to scan event participant: %w", err)
		}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}
