// Package classify decides whether an inbound provider event is a real user
// event, one of our own mirror writebacks, or a mirror made by some other
// sync tool. Ingestion discards managed mirrors before touching any state;
// this is the sync-loop guard.
package classify

import (
	"github.com/tminus/tminus/internal/types"
)

// Classifier is a pure function over the provider event's embedded metadata.
// ForeignMarkers lists tag keys that other sync tools are known to stamp on
// their mirrors (user-configured).
type Classifier struct {
	ForeignMarkers []string
}

// New returns a classifier recognizing the given foreign marker tag keys.
func New(foreignMarkers []string) *Classifier {
	return &Classifier{ForeignMarkers: foreignMarkers}
}

// Classify maps a provider event to origin, managed_mirror or external_mirror.
//
// managed_mirror requires all three of our markers: tminus=true, managed=true
// and a non-empty canonical_event_id. The managed marker dominates every
// other signal; a transparent event carrying it is still managed_mirror.
func (c *Classifier) Classify(e *types.ProviderEvent) types.Classification {
	if e == nil {
		return types.ClassOrigin
	}
	if isManaged(e.Tags) {
		return types.ClassManagedMirror
	}
	if e.Transparency == types.TransparencyTransparent {
		for _, marker := range c.ForeignMarkers {
			if _, ok := e.Tags[marker]; ok {
				return types.ClassExternalMirror
			}
		}
	}
	return types.ClassOrigin
}

func isManaged(tags map[string]string) bool {
	return tags[types.TagManagedBy] == "true" &&
		tags[types.TagManaged] == "true" &&
		tags[types.TagCanonicalEventID] != ""
}

// CanonicalEventID extracts the canonical event id from a managed mirror's
// tags, or "" when the event is not one of ours.
func CanonicalEventID(e *types.ProviderEvent) string {
	if e == nil || !isManaged(e.Tags) {
		return ""
	}
	return e.Tags[types.TagCanonicalEventID]
}
