package mirrorwriter

import (
	"context"

	"github.com/tminus/tminus/internal/queue"
	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

// Recover re-enqueues writer work for mirrors stranded by a crash or left
// pending by offline tooling (migrate --seed). WRITING rows are moved back to
// their pending state first; the idempotency key makes a half-finished create
// safe to retry. Returns the number of jobs enqueued.
func Recover(ctx context.Context, store storage.Store, sender queue.Sender) (int, error) {
	mirrors, err := store.ListMirrors(ctx, storage.MirrorFilter{
		States: []types.MirrorState{
			types.MirrorPendingCreate,
			types.MirrorPendingUpdate,
			types.MirrorDeleting,
			types.MirrorWriting,
		},
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range mirrors {
		if m.State == types.MirrorWriting {
			to := types.MirrorPendingCreate
			if m.ProviderEventID != nil {
				to = types.MirrorPendingUpdate
			}
			ok, err := store.CompareAndSwapMirrorState(ctx, m.ID, types.MirrorWriting, to)
			if err != nil {
				return n, err
			}
			if !ok {
				continue
			}
			m.State = to
		}

		var jt queue.JobType
		switch m.State {
		case types.MirrorPendingCreate:
			jt = queue.JobCreateMirror
		case types.MirrorPendingUpdate:
			jt = queue.JobUpdateMirror
		case types.MirrorDeleting:
			jt = queue.JobDeleteMirror
		default:
			continue
		}
		if err := sender.Send(ctx, queue.Job{Type: jt, MirrorID: m.ID}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
