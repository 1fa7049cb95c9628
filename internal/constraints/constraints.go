// Package constraints manages user availability rules. Most kinds are plain
// CRUD rows read by analytics; trip constraints additionally materialize one
// derived system-source canonical event that projects mirrors like any other
// event.
package constraints

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tminus/tminus/internal/ids"
	"github.com/tminus/tminus/internal/projection"
	"github.com/tminus/tminus/internal/queue"
	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

// Engine owns constraint lifecycle for one user.
type Engine struct {
	store  storage.Store
	sender queue.Sender
	log    zerolog.Logger
}

// New assembles a constraint engine.
func New(store storage.Store, sender queue.Sender, log zerolog.Logger) *Engine {
	return &Engine{store: store, sender: sender, log: log}
}

// Create validates and inserts a constraint. Trip constraints also create
// their derived canonical event and enqueue any mirror writes it needs.
func (e *Engine) Create(ctx context.Context, kind types.ConstraintKind, config, activeFrom, activeTo string) (*types.Constraint, error) {
	c := &types.Constraint{
		ID:         ids.New(ids.PrefixConstraint),
		Kind:       kind,
		Config:     config,
		ActiveFrom: activeFrom,
		ActiveTo:   activeTo,
	}
	if err := types.ValidateConstraintConfig(kind, config); err != nil {
		return nil, err
	}
	if err := e.store.InsertConstraint(ctx, c); err != nil {
		return nil, err
	}

	if kind == types.ConstraintTrip {
		jobs, err := e.materializeTrip(ctx, c)
		if err != nil {
			return nil, err
		}
		if err := e.sendJobs(ctx, jobs); err != nil {
			return c, err
		}
	}
	return c, nil
}

// Update replaces the config and active window. A trip update re-derives its
// canonical event, bumping its version and reprojecting mirrors.
func (e *Engine) Update(ctx context.Context, id, config, activeFrom, activeTo string) (*types.Constraint, error) {
	// Raw read: the old config may predate schema tightening, and an update
	// is exactly how it gets fixed.
	c, err := e.store.GetConstraint(ctx, id)
	if errors.Is(err, storage.ErrNoRows) {
		return nil, types.NotFoundf("no constraint %s", id)
	}
	if err != nil {
		return nil, err
	}
	c.Config = config
	c.ActiveFrom = activeFrom
	c.ActiveTo = activeTo
	if err := e.store.UpdateConstraint(ctx, c); err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return nil, types.NotFoundf("no constraint %s", id)
		}
		return nil, err
	}

	if c.Kind == types.ConstraintTrip {
		jobs, err := e.rederiveTrip(ctx, c)
		if err != nil {
			return nil, err
		}
		if err := e.sendJobs(ctx, jobs); err != nil {
			return c, err
		}
	}
	return c, nil
}

// Delete removes the constraint. Derived events are cancelled and detached
// first; their mirrors continue the DELETE journey independently of the
// constraint row.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if _, err := e.store.GetConstraint(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNoRows) {
			return types.NotFoundf("no constraint %s", id)
		}
		return err
	}

	derived, err := e.store.ListCanonicalEventsByConstraint(ctx, id)
	if err != nil {
		return err
	}

	var jobs []queue.Job
	err = e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		for _, ev := range derived {
			evJobs, err := e.cancelDerived(ctx, tx, ev)
			if err != nil {
				return err
			}
			jobs = append(jobs, evJobs...)
		}
		return tx.DetachConstraint(ctx, id)
	})
	if err != nil {
		return err
	}
	if err := e.store.DeleteConstraint(ctx, id); err != nil && !errors.Is(err, storage.ErrNoRows) {
		return err
	}
	return e.sendJobs(ctx, jobs)
}

// Get returns the constraint, re-validating the stored config. Older rows
// may predate schema tightening.
func (e *Engine) Get(ctx context.Context, id string) (*types.Constraint, error) {
	c, err := e.store.GetConstraint(ctx, id)
	if errors.Is(err, storage.ErrNoRows) {
		return nil, types.NotFoundf("no constraint %s", id)
	}
	if err != nil {
		return nil, err
	}
	if err := types.ValidateConstraintConfig(c.Kind, c.Config); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns constraints of the given kind (all kinds when empty),
// skipping rows whose stored config no longer validates.
func (e *Engine) List(ctx context.Context, kind types.ConstraintKind) ([]*types.Constraint, error) {
	all, err := e.store.ListConstraints(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Constraint, 0, len(all))
	for _, c := range all {
		if err := types.ValidateConstraintConfig(c.Kind, c.Config); err != nil {
			e.log.Warn().Err(err).Str("constraint_id", c.ID).Msg("skipping constraint with stale config")
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// materializeTrip creates the derived canonical event for a new trip.
func (e *Engine) materializeTrip(ctx context.Context, c *types.Constraint) ([]queue.Job, error) {
	cfg, err := tripConfig(c)
	if err != nil {
		return nil, err
	}
	edges, err := e.store.ListPolicyEdges(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []queue.Job
	err = e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		ev := &types.CanonicalEvent{
			ID:            ids.New(ids.PrefixEvent),
			OriginEventID: c.ID,
			Title:         tripTitle(cfg),
			Location:      cfg.Destination,
			Start:         cfg.Start,
			End:           cfg.End,
			Timezone:      cfg.Timezone,
			AllDay:        isDateOnly(cfg.Start),
			Status:        types.StatusConfirmed,
			Visibility:    types.VisibilityDefault,
			Transparency:  types.TransparencyOpaque,
			Source:        types.SourceSystem,
			Version:       1,
			ConstraintID:  &c.ID,
		}
		if err := tx.InsertCanonicalEvent(ctx, ev); err != nil {
			return err
		}
		if err := tx.AppendJournal(ctx, &types.JournalEntry{
			CanonicalEventID: ev.ID,
			ChangeType:       types.ChangeCreated,
			Actor:            "constraint:" + c.ID,
		}); err != nil {
			return err
		}
		jobs, err = projection.Reconcile(ctx, tx, ev, projection.DesiredMirrors(ev, edges))
		return err
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// rederiveTrip pushes the updated trip window into the derived event.
func (e *Engine) rederiveTrip(ctx context.Context, c *types.Constraint) ([]queue.Job, error) {
	cfg, err := tripConfig(c)
	if err != nil {
		return nil, err
	}
	derived, err := e.store.ListCanonicalEventsByConstraint(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if len(derived) == 0 {
		// Derived event was removed out of band; recreate it.
		return e.materializeTrip(ctx, c)
	}
	edges, err := e.store.ListPolicyEdges(ctx)
	if err != nil {
		return nil, err
	}

	var jobs []queue.Job
	err = e.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		for _, ev := range derived {
			ev.Title = tripTitle(cfg)
			ev.Location = cfg.Destination
			ev.Start = cfg.Start
			ev.End = cfg.End
			ev.Timezone = cfg.Timezone
			ev.AllDay = isDateOnly(cfg.Start)
			ev.Version++
			if err := tx.UpdateCanonicalEvent(ctx, ev); err != nil {
				return err
			}
			patch, _ := json.Marshal(cfg)
			if err := tx.AppendJournal(ctx, &types.JournalEntry{
				CanonicalEventID: ev.ID,
				ChangeType:       types.ChangeUpdated,
				Actor:            "constraint:" + c.ID,
				Patch:            string(patch),
			}); err != nil {
				return err
			}
			evJobs, err := projection.Reconcile(ctx, tx, ev, projection.DesiredMirrors(ev, edges))
			if err != nil {
				return err
			}
			jobs = append(jobs, evJobs...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// cancelDerived cancels one derived event and reconciles its mirrors toward
// deletion. The canonical row goes away physically only once no mirror still
// needs it.
func (e *Engine) cancelDerived(ctx context.Context, tx storage.Tx, ev *types.CanonicalEvent) ([]queue.Job, error) {
	ev.Status = types.StatusCancelled
	ev.Version++
	if err := tx.UpdateCanonicalEvent(ctx, ev); err != nil {
		return nil, err
	}
	if err := tx.AppendJournal(ctx, &types.JournalEntry{
		CanonicalEventID: ev.ID,
		ChangeType:       types.ChangeDeleted,
		Actor:            "constraint:" + deref(ev.ConstraintID),
	}); err != nil {
		return nil, err
	}
	jobs, err := projection.Reconcile(ctx, tx, ev, nil)
	if err != nil {
		return nil, err
	}

	mirrors, err := tx.GetMirrorsForEvent(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	live := false
	for _, m := range mirrors {
		if !m.State.Terminal() {
			live = true
			break
		}
	}
	if !live {
		if err := tx.RemoveCanonicalEvent(ctx, ev.ID); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (e *Engine) sendJobs(ctx context.Context, jobs []queue.Job) error {
	for _, job := range jobs {
		if err := e.sender.Send(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func tripConfig(c *types.Constraint) (*types.TripConfig, error) {
	var cfg types.TripConfig
	if err := json.Unmarshal([]byte(c.Config), &cfg); err != nil {
		return nil, types.Validationf("malformed trip config: %v", err)
	}
	return &cfg, nil
}

func tripTitle(cfg *types.TripConfig) string {
	return "Trip: " + cfg.Destination
}

func isDateOnly(ts string) bool {
	return len(ts) == len("2006-01-02") && !strings.Contains(ts, "T")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
