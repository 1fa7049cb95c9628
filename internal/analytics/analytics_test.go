package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tminus/tminus/internal/ids"
	"github.com/tminus/tminus/internal/storage/sqlite"
	"github.com/tminus/tminus/internal/types"
)

type analyticsFixture struct {
	ctx    context.Context
	store  *sqlite.Store
	engine *Engine
}

func setupAnalytics(t *testing.T) *analyticsFixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &analyticsFixture{
		ctx:    ctx,
		store:  store,
		engine: New(store, zerolog.Nop()),
	}
}

// addEvent inserts an opaque confirmed event on the given account.
func (f *analyticsFixture) addEvent(t *testing.T, account, title, start, end string) *types.CanonicalEvent {
	t.Helper()
	e := &types.CanonicalEvent{
		ID:              ids.New(ids.PrefixEvent),
		OriginAccountID: account,
		OriginEventID:   "origin-" + ids.New(ids.PrefixEvent),
		Title:           title,
		Start:           start,
		End:             end,
		Status:          types.StatusConfirmed,
		Visibility:      types.VisibilityDefault,
		Transparency:    types.TransparencyOpaque,
		Source:          types.SourceProvider,
		Version:         1,
	}
	if len(start) == len("2006-01-02") {
		e.AllDay = true
	}
	if err := f.store.InsertCanonicalEvent(f.ctx, e); err != nil {
		t.Fatalf("Failed to insert event: %v", err)
	}
	return e
}

func (f *analyticsFixture) addConstraint(t *testing.T, kind types.ConstraintKind, config string) *types.Constraint {
	t.Helper()
	c := &types.Constraint{
		ID:     ids.New(ids.PrefixConstraint),
		Kind:   kind,
		Config: config,
	}
	if err := f.store.InsertConstraint(f.ctx, c); err != nil {
		t.Fatalf("Failed to insert %s constraint: %v", kind, err)
	}
	return c
}

func (f *analyticsFixture) addRelationship(t *testing.T, hash, name, city string, tier int, lastInteraction *time.Time) *types.Relationship {
	t.Helper()
	r := &types.Relationship{
		ID:                ids.New(ids.PrefixRelationship),
		ParticipantHash:   hash,
		DisplayName:       name,
		City:              city,
		Tier:              tier,
		LastInteractionTS: lastInteraction,
	}
	if err := f.store.InsertRelationship(f.ctx, r); err != nil {
		t.Fatalf("Failed to insert relationship: %v", err)
	}
	return r
}

func (f *analyticsFixture) addOutcome(t *testing.T, hash string, kind types.OutcomeKind) {
	t.Helper()
	err := f.store.AppendLedger(f.ctx, &types.LedgerEntry{
		ID:              ids.New(ids.PrefixLedger),
		ParticipantHash: hash,
		Kind:            kind,
		TS:              time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Failed to append ledger entry: %v", err)
	}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("Bad test timestamp %q: %v", s, err)
	}
	return ts
}
