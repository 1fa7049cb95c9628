// Package projection computes the provider-facing mirror payloads for a
// canonical event and reconciles the mirror table with that desired state.
package projection

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tminus/tminus/internal/types"
)

// Desired is one (target account, target calendar) mirror a canonical event
// should have under the current policy edges.
type Desired struct {
	TargetAccountID  string
	TargetCalendarID string
	DetailLevel      types.DetailLevel
	Payload          *types.MirrorPayload
	ProjectedHash    string
}

// Payload projects a canonical event at the given detail level and stamps the
// managed loop-prevention tags.
func Payload(e *types.CanonicalEvent, level types.DetailLevel) *types.MirrorPayload {
	p := &types.MirrorPayload{
		Start:        e.Start,
		End:          e.End,
		Timezone:     e.Timezone,
		AllDay:       e.AllDay,
		Status:       e.Status,
		Transparency: types.TransparencyOpaque,
		Tags: map[string]string{
			types.TagManagedBy:        "true",
			types.TagManaged:          "true",
			types.TagCanonicalEventID: e.ID,
			types.TagOriginAccountID:  e.OriginAccountID,
		},
	}
	switch level {
	case types.DetailBusy:
		p.Title = "Busy"
	case types.DetailTitle:
		p.Title = e.Title
	case types.DetailFull:
		p.Title = e.Title
		p.Description = e.Description
		p.Location = e.Location
		p.Transparency = e.Transparency
	}
	return p
}

// Hash returns the stable projection hash: the canonical fields that must be
// reflected downstream at the given detail level. An unchanged hash means the
// provider-side mirror needs no write.
func Hash(e *types.CanonicalEvent, level types.DetailLevel) string {
	p := Payload(e, level)
	var b strings.Builder
	// Field order is fixed; changing it invalidates every stored hash.
	fmt.Fprintf(&b, "%s|%s|%s|%s|%s|%s|%t|%s|%s",
		level, p.Title, p.Description, p.Location,
		p.Start, p.End, p.AllDay, p.Status, p.Transparency)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// edgeApplies reports whether the edge's active window overlaps the event.
// Empty bounds are unbounded.
func edgeApplies(edge *types.PolicyEdge, e *types.CanonicalEvent) bool {
	if edge.ActiveFrom != "" && tsBefore(e.End, edge.ActiveFrom) {
		return false
	}
	if edge.ActiveTo != "" && !tsBefore(e.Start, edge.ActiveTo) {
		return false
	}
	return true
}

// tsBefore compares two event timestamps as instants, so values carrying a
// numeric UTC offset order correctly against Z or date-only bounds. Both
// sides were validated at the boundary; if one fails to parse anyway, fall
// back to the normalized string order.
func tsBefore(a, b string) bool {
	ta, errA := types.ParseTS(a)
	tb, errB := types.ParseTS(b)
	if errA != nil || errB != nil {
		return types.NormalizeTS(a) < types.NormalizeTS(b)
	}
	return ta.Before(tb)
}

// DesiredMirrors computes the desired mirror set D for e under edges.
// Cancelled events project nothing; their existing mirrors reconcile to
// DELETING.
func DesiredMirrors(e *types.CanonicalEvent, edges []*types.PolicyEdge) []Desired {
	if e.Status == types.StatusCancelled {
		return nil
	}
	var desired []Desired
	seen := make(map[string]bool)
	for _, edge := range edges {
		// System-derived events (trips) belong to the person, not to one
		// account: they match every edge.
		if e.Source != types.SourceSystem && edge.SourceAccountID != e.OriginAccountID {
			continue
		}
		if !edgeApplies(edge, e) {
			continue
		}
		key := edge.TargetAccountID + "\x00" + edge.TargetCalendarID
		if seen[key] {
			continue
		}
		seen[key] = true
		desired = append(desired, Desired{
			TargetAccountID:  edge.TargetAccountID,
			TargetCalendarID: edge.TargetCalendarID,
			DetailLevel:      edge.DetailLevel,
			Payload:          Payload(e, edge.DetailLevel),
			ProjectedHash:    Hash(e, edge.DetailLevel),
		})
	}
	return desired
}
