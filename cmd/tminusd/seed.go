package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tminus/tminus/internal/config"
	"github.com/tminus/tminus/internal/constraints"
	"github.com/tminus/tminus/internal/ids"
	"github.com/tminus/tminus/internal/queue"
	"github.com/tminus/tminus/internal/storage"
	"github.com/tminus/tminus/internal/types"
)

// Seed fixtures describe a user's starting rules. Constraint configs are
// written as yaml maps and stored as the JSON the engine expects.
type seedFile struct {
	PolicyEdges   []seedEdge         `yaml:"policy_edges"`
	Constraints   []seedConstraint   `yaml:"constraints"`
	Relationships []seedRelationship `yaml:"relationships"`
	Milestones    []seedMilestone    `yaml:"milestones"`
}

type seedEdge struct {
	SourceAccountID  string `yaml:"source_account_id"`
	TargetAccountID  string `yaml:"target_account_id"`
	TargetCalendarID string `yaml:"target_calendar_id"`
	DetailLevel      string `yaml:"detail_level"`
	ActiveFrom       string `yaml:"active_from"`
	ActiveTo         string `yaml:"active_to"`
}

type seedConstraint struct {
	Kind       string         `yaml:"kind"`
	Config     map[string]any `yaml:"config"`
	ActiveFrom string         `yaml:"active_from"`
	ActiveTo   string         `yaml:"active_to"`
}

type seedRelationship struct {
	Email       string `yaml:"email"`
	DisplayName string `yaml:"display_name"`
	City        string `yaml:"city"`
	Tier        int    `yaml:"tier"`
}

type seedMilestone struct {
	Email     string `yaml:"email"`
	Title     string `yaml:"title"`
	Date      string `yaml:"date"`
	Recurring bool   `yaml:"recurring"`
}

// applySeed loads a fixture into the store. Trip constraints enqueue their
// mirror jobs into a throwaway queue; serve's recovery pass requeues the
// pending mirror rows.
func applySeed(ctx context.Context, store storage.Store, path string) (int, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied fixture path
	if err != nil {
		return 0, err
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return 0, fmt.Errorf("parse fixture: %w", err)
	}

	salt := config.GetString(config.KeyEngineSalt)
	n := 0

	for _, e := range seed.PolicyEdges {
		level := types.DetailLevel(e.DetailLevel)
		if level == "" {
			level = types.DetailBusy
		}
		if err := store.InsertPolicyEdge(ctx, &types.PolicyEdge{
			ID:               ids.New(ids.PrefixEdge),
			SourceAccountID:  e.SourceAccountID,
			TargetAccountID:  e.TargetAccountID,
			TargetCalendarID: e.TargetCalendarID,
			DetailLevel:      level,
			ActiveFrom:       e.ActiveFrom,
			ActiveTo:         e.ActiveTo,
		}); err != nil {
			return n, fmt.Errorf("policy edge %s->%s: %w", e.SourceAccountID, e.TargetAccountID, err)
		}
		n++
	}

	// Edges first so trip constraints project against them.
	q := queue.NewMemory(64)
	defer q.Close()
	engine := constraints.New(store, q, log)
	for _, c := range seed.Constraints {
		cfg, err := json.Marshal(c.Config)
		if err != nil {
			return n, fmt.Errorf("constraint %s config: %w", c.Kind, err)
		}
		if _, err := engine.Create(ctx, types.ConstraintKind(c.Kind), string(cfg), c.ActiveFrom, c.ActiveTo); err != nil {
			return n, fmt.Errorf("constraint %s: %w", c.Kind, err)
		}
		n++
	}

	for _, r := range seed.Relationships {
		if r.Email == "" {
			return n, fmt.Errorf("relationship %q has no email", r.DisplayName)
		}
		if err := store.InsertRelationship(ctx, &types.Relationship{
			ID:              ids.New(ids.PrefixRelationship),
			ParticipantHash: types.HashParticipant(r.Email, salt),
			Email:           r.Email,
			DisplayName:     r.DisplayName,
			City:            r.City,
			Tier:            r.Tier,
		}); err != nil {
			return n, fmt.Errorf("relationship %s: %w", r.Email, err)
		}
		n++
	}

	for _, m := range seed.Milestones {
		if err := store.InsertMilestone(ctx, &types.Milestone{
			ID:              ids.New(ids.PrefixMilestone),
			ParticipantHash: types.HashParticipant(m.Email, salt),
			Title:           m.Title,
			Date:            m.Date,
			Recurring:       m.Recurring,
		}); err != nil {
			return n, fmt.Errorf("milestone %s: %w", m.Title, err)
		}
		n++
	}

	return n, nil
}
