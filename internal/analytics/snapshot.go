package analytics

import (
	"context"
	"time"

	"github.com/tminus/tminus/internal/types"
)

// SimulationSnapshot is a self-contained, read-only copy of the scheduling
// state a what-if engine needs. Nothing in it aliases live store rows.
type SimulationSnapshot struct {
	TakenAt       time.Time                  `json:"taken_at"`
	RangeStart    string                     `json:"range_start"`
	RangeEnd      string                     `json:"range_end"`
	Events        []*types.CanonicalEvent    `json:"events"`
	Constraints   []*types.Constraint        `json:"constraints"`
	Edges         []*types.PolicyEdge        `json:"edges"`
	Milestones    []*types.Milestone         `json:"milestones"`
	Relationships []*types.Relationship      `json:"relationships"`
	Availability  *Availability              `json:"availability"`
	MirrorCounts  map[types.MirrorState]int  `json:"mirror_counts"`
}

// BuildSimulationSnapshot captures everything a simulator needs to replay
// availability decisions for the range without touching the store again.
func (a *Engine) BuildSimulationSnapshot(ctx context.Context, start, end string, now time.Time) (*SimulationSnapshot, error) {
	avail, err := a.ComputeAvailability(ctx, start, end, nil)
	if err != nil {
		return nil, err
	}
	events, err := a.store.ListCanonicalEventsInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	constraints, err := a.store.ListConstraints(ctx, "")
	if err != nil {
		return nil, err
	}
	edges, err := a.store.ListPolicyEdges(ctx)
	if err != nil {
		return nil, err
	}
	milestones, err := a.store.ListMilestones(ctx)
	if err != nil {
		return nil, err
	}
	rels, err := a.store.ListRelationships(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := a.store.CountMirrorsByState(ctx)
	if err != nil {
		return nil, err
	}
	return &SimulationSnapshot{
		TakenAt:       now,
		RangeStart:    start,
		RangeEnd:      end,
		Events:        events,
		Constraints:   constraints,
		Edges:         edges,
		Milestones:    milestones,
		Relationships: rels,
		Availability:  avail,
		MirrorCounts:  counts,
	}, nil
}
