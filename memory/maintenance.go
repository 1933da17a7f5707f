package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/spacebot/kernel/store"
	"github.com/spacebot/kernel/worker"
)

// MaintenanceConfig tunes the periodic maintenance job. Exact schedules
// are intentionally tunable; the semantics (Identity never decays, merge
// is idempotent, prune is a soft forgotten flag) are fixed.
type MaintenanceConfig struct {
	DecayHalfLife    time.Duration
	ImportanceFloor  float64
	MergeSimilarity  float64
	ChannelsToScan   func(ctx context.Context) ([]string, error)
}

// RunMaintenance applies decay, pruning, and near-duplicate merging for
// every channel ChannelsToScan returns. It is run as a periodic Worker
// backend (see MaintenanceBackend in this package), not on its own
// schedule.
func (p *Pipeline) RunMaintenance(ctx context.Context, cfg MaintenanceConfig) error {
	if cfg.DecayHalfLife <= 0 {
		cfg.DecayHalfLife = 30 * 24 * time.Hour
	}
	if cfg.ImportanceFloor <= 0 {
		cfg.ImportanceFloor = 0.05
	}
	if cfg.MergeSimilarity <= 0 {
		cfg.MergeSimilarity = mergeSimilarityThreshold
	}

	channels, err := cfg.ChannelsToScan(ctx)
	if err != nil {
		return err
	}

	for _, channelID := range channels {
		if err := ctx.Err(); err != nil {
			return err
		}
		recs, err := p.records.ListByChannel(ctx, channelID, 0)
		if err != nil {
			continue
		}
		for _, rec := range recs {
			p.applyDecay(ctx, rec, cfg)
		}
		p.mergeDuplicates(ctx, recs, cfg)
	}
	return nil
}

func (p *Pipeline) applyDecay(ctx context.Context, rec store.Record, cfg MaintenanceConfig) {
	if rec.Kind == string(KindIdentity) {
		return
	}
	age := time.Since(rec.LastAccessedAt)
	if age <= 0 {
		return
	}
	decayFactor := halfLifeDecay(age, cfg.DecayHalfLife)
	rec.Importance = clampImportance(rec.Importance * decayFactor)

	if rec.Importance < cfg.ImportanceFloor {
		_ = p.records.MarkForgotten(ctx, rec.ID)
		return
	}
	_ = p.records.SaveRecord(ctx, rec)
}

func halfLifeDecay(age, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}
	halvings := age.Seconds() / halfLife.Seconds()
	factor := 1.0
	for i := 1.0; i <= halvings; i++ {
		factor *= 0.5
	}
	// Handle the fractional remainder with a linear approximation rather
	// than pulling in math.Pow for a single call site.
	remainder := halvings - float64(int(halvings))
	return factor * (1 - remainder*0.5)
}

// mergeDuplicates folds records whose content is a near-duplicate (by
// embedding similarity, not string equality) into the earliest-created
// one, unioning their associations. Idempotent: once merged, the
// duplicate is forgotten and will not be considered again on a later
// pass. Similarity is computed the same way autoAssociate does: embed,
// then query the vector store, rather than touching stored content
// directly.
func (p *Pipeline) mergeDuplicates(ctx context.Context, recs []store.Record, cfg MaintenanceConfig) {
	byID := make(map[string]store.Record, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
	}

	merged := make(map[string]bool)
	for _, rec := range recs {
		if merged[rec.ID] || rec.Forgotten {
			continue
		}

		embedding, err := p.embedder.Embed(ctx, rec.Content)
		if err != nil {
			continue
		}
		hits, err := p.vectors.Query(ctx, embedding, len(recs))
		if err != nil {
			continue
		}

		for _, hit := range hits {
			if hit.ID == rec.ID || hit.Score < cfg.MergeSimilarity {
				continue
			}
			other, ok := byID[hit.ID]
			if !ok || merged[other.ID] || other.Forgotten {
				continue
			}

			earliest, duplicate := rec, other
			if other.CreatedAt.Before(rec.CreatedAt) {
				earliest, duplicate = other, rec
			}
			p.foldAssociations(ctx, duplicate.ID, earliest.ID)
			_ = p.records.MarkForgotten(ctx, duplicate.ID)
			merged[duplicate.ID] = true
			if duplicate.ID == rec.ID {
				break
			}
		}
	}
}

func (p *Pipeline) foldAssociations(ctx context.Context, fromID, intoID string) {
	assocs, err := p.records.Associations(ctx, fromID)
	if err != nil {
		return
	}
	for _, a := range assocs {
		newFrom, newTo := a.FromID, a.ToID
		if newFrom == fromID {
			newFrom = intoID
		}
		if newTo == fromID {
			newTo = intoID
		}
		if newFrom == newTo {
			continue
		}
		_ = p.writeAssociation(ctx, newFrom, newTo, Relation(a.Relation), a.Weight)
	}
}

// MaintenanceBackend wraps Pipeline.RunMaintenance as a worker.Backend so
// the maintenance job runs as an ordinary periodic Worker instead of on
// its own bespoke goroutine: the compactor Worker is the only other
// Worker allowed to write Memory, and the maintenance sweep is the one
// permitted to mutate existing Memory records (decay, prune, merge).
type MaintenanceBackend struct {
	pipeline *Pipeline
	cfg      MaintenanceConfig
}

var _ worker.Backend = (*MaintenanceBackend)(nil)

// NewMaintenanceBackend returns a Backend that runs one maintenance sweep
// per Run call.
func NewMaintenanceBackend(pipeline *Pipeline, cfg MaintenanceConfig) *MaintenanceBackend {
	return &MaintenanceBackend{pipeline: pipeline, cfg: cfg}
}

// Run performs one maintenance sweep and reports it as the Worker's
// single terminal outcome; maintenance has no interactive follow-up
// surface, so it always runs to completion or failure in one pass.
func (b *MaintenanceBackend) Run(ctx context.Context, task string, rep worker.Reporter) {
	rep.SetStatus(ctx, "running maintenance sweep")
	if err := b.pipeline.RunMaintenance(ctx, b.cfg); err != nil {
		rep.Failed(ctx, fmt.Errorf("memory: maintenance sweep failed: %w", err))
		return
	}
	rep.Done(ctx, "maintenance sweep complete")
}

// FollowUp is rejected: a maintenance sweep never waits for input.
func (b *MaintenanceBackend) FollowUp(ctx context.Context, message string) error {
	return fmt.Errorf("memory: maintenance backend does not accept follow-up input")
}

// Cancel is a no-op beyond ctx cancellation: RunMaintenance already
// checks ctx.Err() between channels and returns early.
func (b *MaintenanceBackend) Cancel(ctx context.Context) error {
	return nil
}
