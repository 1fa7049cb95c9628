// Package provider abstracts the calendar backends the writer pushes mirrors
// into. Real adapters (Google, Microsoft) live behind WriteAdapter; the
// engine itself never speaks a provider protocol.
package provider

import (
	"context"

	"github.com/tminus/tminus/internal/types"
)

// WriteAdapter performs provider-side event writes. Implementations must
// treat idemKey as a create-idempotency token: a retried create with the
// same key must not produce a second event.
type WriteAdapter interface {
	CreateEvent(ctx context.Context, account, calendar, idemKey string, payload *types.MirrorPayload) (providerEventID string, err error)
	UpdateEvent(ctx context.Context, account, calendar, providerEventID string, payload *types.MirrorPayload) error
	DeleteEvent(ctx context.Context, account, calendar, providerEventID string) error
}

// TokenSource supplies per-account credentials to adapters. Kept separate
// from WriteAdapter so token refresh can be shared across providers.
type TokenSource interface {
	Token(ctx context.Context, account string) (string, error)
}

// StaticTokenSource returns the same token for every account; used in tests
// and single-tenant deployments.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context, string) (string, error) {
	return string(s), nil
}
