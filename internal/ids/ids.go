// Package ids mints the prefixed ULID identifiers used across the engine
// (evt_01hx..., mir_..., ses_...). ULIDs keep ids lexically sortable by
// creation time, which the journal and debug trails rely on.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tminus/tminus/internal/types"
)

// Entity prefixes. The separator is always "_".
const (
	PrefixEvent        = "evt"
	PrefixMirror       = "mir"
	PrefixSession      = "ses"
	PrefixHold         = "hold"
	PrefixConstraint   = "con"
	PrefixEdge         = "edge"
	PrefixRelationship = "rel"
	PrefixLedger       = "ledger"
	PrefixMilestone    = "mst"
	PrefixAlert        = "alert"
	PrefixCandidate    = "cand"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh id for the given prefix, e.g. "evt_01hzy3qkkfv6...".
func New(prefix string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return prefix + "_" + strings.ToLower(id.String())
}

// Validate checks that id carries the expected prefix and a parseable ULID.
func Validate(id, prefix string) error {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	if !ok {
		return types.Validationf("id %q does not have prefix %q", id, prefix)
	}
	if _, err := ulid.Parse(strings.ToUpper(rest)); err != nil {
		return types.Validationf("id %q is not a valid ulid: %v", id, err)
	}
	return nil
}

// Prefix returns the prefix portion of an id, or "" if malformed.
func Prefix(id string) string {
	p, _, ok := strings.Cut(id, "_")
	if !ok {
		return ""
	}
	return p
}
