// Package cortex implements the Cortex process: a periodic singleton that
// consults the Memory Pipeline and recent activity to produce a shared
// Bulletin, published behind an atomic single-writer/many-reader pointer
// swap so every Channel can read the latest bulletin without locking.
package cortex

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/spacebot/kernel/hooks"
	"github.com/spacebot/kernel/memory"
	"github.com/spacebot/kernel/telemetry"
)

// Bulletin is the shared synthesis Cortex publishes each run.
type Bulletin struct {
	Text        string
	GeneratedAt time.Time
	Version     int64
}

// Generator produces bulletin text from a recall over the Memory
// Pipeline. It is a collaborator so the actual LLM call (or, in tests, a
// stub) stays out of Cortex's own control-flow logic.
type Generator interface {
	Generate(ctx context.Context, recent []memory.Memory) (string, error)
}

// Cortex owns the bulletin cell. Many goroutines call Current
// concurrently with Run; Run is expected to have at most one live caller
// at a time (the kernel wires a single Cortex per kernel instance).
type Cortex struct {
	pipeline  *memory.Pipeline
	generator Generator
	bus       hooks.Bus
	telemetry telemetry.Set

	cell    atomic.Pointer[Bulletin]
	version atomic.Int64
}

// New returns a Cortex with an empty initial bulletin.
func New(pipeline *memory.Pipeline, generator Generator, bus hooks.Bus, tel telemetry.Set) *Cortex {
	if tel.Logger == nil {
		tel = telemetry.Noop()
	}
	c := &Cortex{pipeline: pipeline, generator: generator, bus: bus, telemetry: tel}
	c.cell.Store(&Bulletin{Text: "", GeneratedAt: time.Time{}, Version: 0})
	return c
}

// Current returns the most recently published Bulletin. Safe for any
// number of concurrent readers; never blocks on Run.
func (c *Cortex) Current() Bulletin {
	return *c.cell.Load()
}

// perKindRecallCap bounds how many Memories of each kind feed one
// bulletin generation, so a single prolific kind (usually Event) cannot
// crowd out the other six.
const perKindRecallCap = 25

// recallKinds is every Memory kind Cortex surveys each run, in the
// fixed order their results are concatenated for Generate.
var recallKinds = []memory.Kind{
	memory.KindIdentity,
	memory.KindFact,
	memory.KindDecision,
	memory.KindEvent,
	memory.KindPreference,
	memory.KindObservation,
	memory.KindGoal,
}

// Run starts the periodic generation loop: one immediate tick so the
// first bulletin exists before any Channel's first turn, then one every
// interval until ctx is cancelled. A run that errors leaves the
// previously published bulletin in place rather than publishing a
// partial result, matching the graceful-shutdown rule that Cortex aborts
// mid-run and keeps the last good bulletin.
func (c *Cortex) Run(ctx context.Context, interval time.Duration) {
	c.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Cortex) tick(ctx context.Context) {
	var recent []memory.Memory
	for _, kind := range recallKinds {
		hits, err := c.pipeline.Recall(ctx, memory.RecallQuery{Kind: kind, Limit: perKindRecallCap, ExpandGraph: true})
		if err != nil {
			c.telemetry.Logger.Warn(ctx, "cortex: recall failed for kind, keeping prior bulletin", "kind", string(kind), "err", err)
			return
		}
		recent = append(recent, hits...)
	}

	text, err := c.generator.Generate(ctx, recent)
	if err != nil {
		c.telemetry.Logger.Warn(ctx, "cortex: generation failed, keeping prior bulletin", "err", err)
		return
	}

	version := c.version.Add(1)
	c.cell.Store(&Bulletin{Text: text, GeneratedAt: time.Now().UTC(), Version: version})

	if c.bus != nil {
		_ = c.bus.Publish(ctx, hooks.Event{Kind: hooks.KindStatusUpdate, Status: "bulletin updated"})
	}
}
