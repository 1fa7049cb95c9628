package sqlite

import (
	"context"
	"testing"

	"github.com/tminus/tminus/internal/ids"
	"github.com/tminus/tminus/internal/types"
)

// setupTestStore creates an in-memory store that is torn down with the test.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Failed to close test store: %v", err)
		}
	})
	return store
}

// makeTestEvent returns a minimal valid canonical event for tests.
func makeTestEvent(originAccountID, originEventID string) *types.CanonicalEvent {
	return &types.CanonicalEvent{
		ID:              ids.New(ids.PrefixEvent),
		OriginAccountID: originAccountID,
		OriginEventID:   originEventID,
		Title:           "Test event",
		Start:           "2026-02-16T10:00:00Z",
		End:             "2026-02-16T11:00:00Z",
		Status:          types.StatusConfirmed,
		Visibility:      types.VisibilityDefault,
		Transparency:    types.TransparencyOpaque,
		Source:          types.SourceProvider,
		Version:         1,
	}
}
