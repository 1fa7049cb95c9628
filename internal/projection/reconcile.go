package projection

import (
	"context"

	"github.com/tminus/tminus/internal/ids"
	"github.com/tminus/tminus/internal/queue"
	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

// Reconcile diffs the desired mirror set against the stored mirror rows for
// one canonical event, applies the row transitions inside tx, and returns the
// jobs to enqueue after the transaction commits. Sending only after commit
// keeps the queue free of jobs for rows that were rolled back.
func Reconcile(ctx context.Context, tx storage.Tx, e *types.CanonicalEvent, desired []Desired) ([]queue.Job, error) {
	existing, err := tx.GetMirrorsForEvent(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	byKey := make(map[types.MirrorKey]*types.EventMirror, len(existing))
	for _, m := range existing {
		byKey[m.Key()] = m
	}

	var jobs []queue.Job
	matched := make(map[types.MirrorKey]bool, len(desired))

	for _, d := range desired {
		key := types.MirrorKey{
			CanonicalEventID: e.ID,
			TargetAccountID:  d.TargetAccountID,
			TargetCalendarID: d.TargetCalendarID,
		}
		matched[key] = true

		m, ok := byKey[key]
		if !ok {
			m = &types.EventMirror{
				ID:                ids.New(ids.PrefixMirror),
				CanonicalEventID:  e.ID,
				TargetAccountID:   d.TargetAccountID,
				TargetCalendarID:  d.TargetCalendarID,
				LastProjectedHash: d.ProjectedHash,
				State:             types.MirrorPendingCreate,
			}
			if err := tx.InsertMirror(ctx, m); err != nil {
				return nil, err
			}
			jobs = append(jobs, queue.Job{Type: queue.JobCreateMirror, MirrorID: m.ID})
			continue
		}

		switch m.State {
		case types.MirrorFailed:
			// Dead-lettered; only an explicit reset revives it.
			continue
		case types.MirrorDeleted, types.MirrorTombstoned:
			// The edge came back after the row went terminal. Revive through
			// a fresh create cycle.
			m.State = types.MirrorPendingCreate
			m.ProviderEventID = nil
			m.LastProjectedHash = d.ProjectedHash
			m.AttemptCount = 0
			m.NextRetryAt = nil
			m.Error = ""
			if err := tx.UpdateMirror(ctx, m); err != nil {
				return nil, err
			}
			jobs = append(jobs, queue.Job{Type: queue.JobCreateMirror, MirrorID: m.ID})
		case types.MirrorLive:
			if m.LastProjectedHash == d.ProjectedHash {
				continue
			}
			m.State = types.MirrorPendingUpdate
			m.LastProjectedHash = d.ProjectedHash
			if err := tx.UpdateMirror(ctx, m); err != nil {
				return nil, err
			}
			jobs = append(jobs, queue.Job{Type: queue.JobUpdateMirror, MirrorID: m.ID})
		case types.MirrorDeleting:
			// The edge came back while the teardown job was still queued. Put
			// the row back on the write path; the stale delete job acks on
			// the state mismatch.
			if m.ProviderEventID == nil {
				m.State = types.MirrorPendingCreate
				jobs = append(jobs, queue.Job{Type: queue.JobCreateMirror, MirrorID: m.ID})
			} else {
				m.State = types.MirrorPendingUpdate
				jobs = append(jobs, queue.Job{Type: queue.JobUpdateMirror, MirrorID: m.ID})
			}
			m.LastProjectedHash = d.ProjectedHash
			m.AttemptCount = 0
			m.NextRetryAt = nil
			m.Error = ""
			if err := tx.UpdateMirror(ctx, m); err != nil {
				return nil, err
			}
		default:
			// PENDING_* or WRITING: a job is already in flight. The writer
			// reads the live payload at write time, so refreshing the stored
			// hash is enough.
			if m.LastProjectedHash != d.ProjectedHash {
				m.LastProjectedHash = d.ProjectedHash
				if err := tx.UpdateMirror(ctx, m); err != nil {
					return nil, err
				}
			}
		}
	}

	for _, m := range existing {
		if matched[m.Key()] || m.State.Terminal() {
			continue
		}
		switch {
		case m.State == types.MirrorDeleting:
			// Delete already underway.
		case m.State == types.MirrorFailed:
			// No longer desired and dead-lettered: tombstone instead of
			// re-enqueueing work for a row the writer gave up on.
			m.State = types.MirrorTombstoned
			if err := tx.UpdateMirror(ctx, m); err != nil {
				return nil, err
			}
		case m.ProviderEventID == nil:
			// Never materialized on the provider; nothing to tear down. An
			// in-flight CREATE job acks harmlessly on the state mismatch.
			m.State = types.MirrorDeleted
			if err := tx.UpdateMirror(ctx, m); err != nil {
				return nil, err
			}
		default:
			m.State = types.MirrorDeleting
			if err := tx.UpdateMirror(ctx, m); err != nil {
				return nil, err
			}
			jobs = append(jobs, queue.Job{Type: queue.JobDeleteMirror, MirrorID: m.ID})
		}
	}

	return jobs, nil
}
