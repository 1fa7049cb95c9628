// Package storage defines the interface for the per-user durable store.
//
// One Store instance holds all state for exactly one user. The owning user
// actor is the only writer; nothing outside the actor may mutate the store.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tminus/tminus/internal/types"
)

// ErrNoRows is returned by point lookups when the entity does not exist.
// Callers translate it into a types.NotFoundf with entity context.
var ErrNoRows = errors.New("storage: no rows")

// MirrorFilter narrows ListMirrors.
type MirrorFilter struct {
	CanonicalEventID string
	TargetAccountID  string
	States           []types.MirrorState
	DueBefore        *time.Time // next_retry_at <= DueBefore (or NULL)
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	Status types.SessionStatus
	Limit  int
}

// Tx is the mutating subset of Store that executes inside one database
// transaction. If the callback returns an error the transaction rolls back;
// on nil return it commits.
type Tx interface {
	// Canonical events
	InsertCanonicalEvent(ctx context.Context, e *types.CanonicalEvent) error
	UpdateCanonicalEvent(ctx context.Context, e *types.CanonicalEvent) error
	RemoveCanonicalEvent(ctx context.Context, id string) error
	GetCanonicalEvent(ctx context.Context, id string) (*types.CanonicalEvent, error)
	GetCanonicalEventByOrigin(ctx context.Context, originAccountID, originEventID string) (*types.CanonicalEvent, error)
	DetachConstraint(ctx context.Context, constraintID string) error

	// Journal (append-only)
	AppendJournal(ctx context.Context, entry *types.JournalEntry) error

	// Mirrors
	InsertMirror(ctx context.Context, m *types.EventMirror) error
	UpdateMirror(ctx context.Context, m *types.EventMirror) error
	GetMirrorsForEvent(ctx context.Context, canonicalEventID string) ([]*types.EventMirror, error)
	GetMirrorByProviderEvent(ctx context.Context, targetAccountID, providerEventID string) (*types.EventMirror, error)

	// Participant side tables
	ReplaceEventParticipants(ctx context.Context, canonicalEventID string, ps []types.EventParticipant) error
	TouchRelationshipInteraction(ctx context.Context, participantHash string, ts time.Time) error

	// Scheduling
	InsertSession(ctx context.Context, s *types.SchedulingSession) error
	UpdateSession(ctx context.Context, s *types.SchedulingSession) error
	InsertHold(ctx context.Context, h *types.Hold) error
	UpdateHold(ctx context.Context, h *types.Hold) error
	GetHoldsBySession(ctx context.Context, sessionID string) ([]*types.Hold, error)
}

// Store is the complete per-user persistence contract. All reads see the
// last committed state; mutating methods outside RunInTransaction run in
// their own implicit transaction.
type Store interface {
	Tx

	// RunInTransaction executes fn atomically (BEGIN IMMEDIATE).
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Canonical event reads
	ListCanonicalEventsInRange(ctx context.Context, start, end string) ([]*types.CanonicalEvent, error)
	ListCanonicalEventsByConstraint(ctx context.Context, constraintID string) ([]*types.CanonicalEvent, error)
	CountCanonicalEvents(ctx context.Context) (int, error)

	// Journal reads
	GetJournal(ctx context.Context, canonicalEventID string, limit int) ([]*types.JournalEntry, error)

	// Mirrors
	GetMirror(ctx context.Context, id string) (*types.EventMirror, error)
	GetMirrorByKey(ctx context.Context, key types.MirrorKey) (*types.EventMirror, error)
	ListMirrors(ctx context.Context, filter MirrorFilter) ([]*types.EventMirror, error)
	CompareAndSwapMirrorState(ctx context.Context, id string, from, to types.MirrorState) (bool, error)
	// UpdateMirrorWriteState persists the writer-owned columns (state,
	// provider_event_id, last_write_ts, error, attempt_count, next_retry_at)
	// guarded on the row still being in the from state. last_projected_hash
	// is untouched, so a reconcile refresh during the provider call survives
	// the write finishing. Returns false when the row moved on.
	UpdateMirrorWriteState(ctx context.Context, m *types.EventMirror, from types.MirrorState) (bool, error)
	CountMirrorsByState(ctx context.Context) (map[types.MirrorState]int, error)

	// Policy edges
	InsertPolicyEdge(ctx context.Context, e *types.PolicyEdge) error
	DeletePolicyEdge(ctx context.Context, id string) error
	ListPolicyEdges(ctx context.Context) ([]*types.PolicyEdge, error)
	ListPolicyEdgesForSource(ctx context.Context, sourceAccountID string) ([]*types.PolicyEdge, error)

	// Constraints
	InsertConstraint(ctx context.Context, c *types.Constraint) error
	UpdateConstraint(ctx context.Context, c *types.Constraint) error
	DeleteConstraint(ctx context.Context, id string) error
	GetConstraint(ctx context.Context, id string) (*types.Constraint, error)
	ListConstraints(ctx context.Context, kind types.ConstraintKind) ([]*types.Constraint, error)

	// Relationships, ledger, milestones
	InsertRelationship(ctx context.Context, r *types.Relationship) error
	UpdateRelationship(ctx context.Context, r *types.Relationship) error
	DeleteRelationship(ctx context.Context, id string) error
	GetRelationship(ctx context.Context, id string) (*types.Relationship, error)
	GetRelationshipByHash(ctx context.Context, participantHash string) (*types.Relationship, error)
	ListRelationships(ctx context.Context) ([]*types.Relationship, error)
	AppendLedger(ctx context.Context, entry *types.LedgerEntry) error
	ListLedger(ctx context.Context, participantHash string, limit int) ([]*types.LedgerEntry, error)
	InsertMilestone(ctx context.Context, m *types.Milestone) error
	DeleteMilestone(ctx context.Context, id string) error
	ListMilestones(ctx context.Context) ([]*types.Milestone, error)

	// Participants
	GetEventParticipants(ctx context.Context, canonicalEventID string) ([]types.EventParticipant, error)

	// Scheduling reads
	GetSession(ctx context.Context, id string) (*types.SchedulingSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*types.SchedulingSession, error)
	ListExpiredHolds(ctx context.Context, now time.Time) ([]*types.Hold, error)

	// Lifecycle
	Close() error
}
