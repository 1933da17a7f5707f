// Package kernel wires together the Process Registry, Event Bus, Memory
// Pipeline, Cortex, Status Projection, and per-conversation Channels into
// a single runnable unit. Grounded on cmd/demo/main.go's construction
// style (register collaborators, then expose a thin client surface) and
// runtime/agent/runtime/workflow_loop.go's graceful-shutdown grace-period
// pattern for Shutdown.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spacebot/kernel/channel"
	"github.com/spacebot/kernel/cortex"
	"github.com/spacebot/kernel/hooks"
	"github.com/spacebot/kernel/memory"
	"github.com/spacebot/kernel/model"
	"github.com/spacebot/kernel/process"
	"github.com/spacebot/kernel/status"
	"github.com/spacebot/kernel/telemetry"
	"github.com/spacebot/kernel/worker"
)

// Config bounds the kernel-wide defaults new Channels are created with.
type Config struct {
	ChannelConfig       channel.Config
	CortexInterval      time.Duration
	MaintenanceInterval time.Duration
	MaintenanceConfig   memory.MaintenanceConfig
	EventQueueSize      int
	Identity            []string
	ShutdownGrace       time.Duration
}

// DefaultConfig returns sane defaults: a 5-minute Cortex cadence, a
// 1-hour maintenance sweep cadence, a 256-deep per-subscriber event
// queue, and a 10-second shutdown grace period.
func DefaultConfig() Config {
	return Config{
		ChannelConfig:       channel.DefaultConfig(),
		CortexInterval:      5 * time.Minute,
		MaintenanceInterval: 1 * time.Hour,
		EventQueueSize:      256,
		ShutdownGrace:       10 * time.Second,
	}
}

// Option customizes a Kernel's Config at construction time.
type Option func(*Config)

// WithChannelConfig overrides the per-Channel turn/compaction/branch
// configuration every new Channel is created with.
func WithChannelConfig(cfg channel.Config) Option {
	return func(c *Config) { c.ChannelConfig = cfg }
}

// WithCortexInterval overrides how often Cortex regenerates its bulletin.
func WithCortexInterval(d time.Duration) Option {
	return func(c *Config) { c.CortexInterval = d }
}

// WithMaintenanceInterval overrides how often the Memory maintenance
// sweep Worker runs.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(c *Config) { c.MaintenanceInterval = d }
}

// WithMaintenanceConfig overrides the Memory maintenance sweep's decay,
// prune, and merge tuning.
func WithMaintenanceConfig(cfg memory.MaintenanceConfig) Option {
	return func(c *Config) { c.MaintenanceConfig = cfg }
}

// WithIdentity sets the identity file contents every Channel's system
// prompt is assembled from.
func WithIdentity(identity []string) Option {
	return func(c *Config) { c.Identity = identity }
}

// WithShutdownGrace overrides how long Shutdown waits for in-flight work
// to drain before returning.
func WithShutdownGrace(d time.Duration) Option {
	return func(c *Config) { c.ShutdownGrace = d }
}

// Kernel is the top-level runnable unit: one Process Registry, one Event
// Bus, one Memory Pipeline, one Cortex, and a set of independently
// serialized Channels sharing them.
type Kernel struct {
	cfg    Config
	tel    telemetry.Set
	bus    hooks.Bus
	reg    *process.Registry
	cortex *cortex.Cortex

	client   model.Client
	pipeline *memory.Pipeline
	prompt   channel.PromptAssembler
	recorder *status.ActivityRecorder

	mu       sync.Mutex
	channels map[channel.ID]*channel.Channel

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New wires a Kernel from its required collaborators (a model Client,
// the Memory Pipeline, a bulletin Generator, and a PromptAssembler) plus
// any Options.
func New(client model.Client, pipeline *memory.Pipeline, generator cortex.Generator, prompt channel.PromptAssembler, tel telemetry.Set, opts ...Option) *Kernel {
	if tel.Logger == nil {
		tel = telemetry.Noop()
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	bus := hooks.NewBoundedBus(cfg.EventQueueSize, tel.Metrics)
	reg := process.New(bus)
	recorder := status.NewActivityRecorder(bus)
	cx := cortex.New(pipeline, generator, bus, tel)

	runCtx, cancel := context.WithCancel(context.Background())

	k := &Kernel{
		cfg:       cfg,
		tel:       tel,
		bus:       bus,
		reg:       reg,
		cortex:    cx,
		client:    client,
		pipeline:  pipeline,
		prompt:    prompt,
		recorder:  recorder,
		channels:  make(map[channel.ID]*channel.Channel),
		runCtx:    runCtx,
		runCancel: cancel,
	}

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		cx.Run(runCtx, cfg.CortexInterval)
	}()

	if pipeline != nil && cfg.MaintenanceInterval > 0 {
		k.wg.Add(1)
		go func() {
			defer k.wg.Done()
			k.runMaintenance(runCtx, cfg.MaintenanceInterval, cfg.MaintenanceConfig)
		}()
	}

	return k
}

// runMaintenance runs the Memory maintenance sweep as a periodic Worker:
// once per interval, it registers a Worker process, wraps
// memory.MaintenanceBackend, and runs it to completion before
// deregistering, mirroring the shape Channel.spawnWorker uses for an
// ordinary task worker.
func (k *Kernel) runMaintenance(ctx context.Context, interval time.Duration, cfg memory.MaintenanceConfig) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.runMaintenanceSweep(ctx, cfg)
		}
	}
}

func (k *Kernel) runMaintenanceSweep(ctx context.Context, cfg memory.MaintenanceConfig) {
	if cfg.ChannelsToScan == nil {
		cfg.ChannelsToScan = func(context.Context) ([]string, error) {
			ids := k.channelIDs()
			out := make([]string, len(ids))
			for i, id := range ids {
				out[i] = string(id)
			}
			return out, nil
		}
	}

	id, wctx, _ := k.reg.Register(ctx, process.KindWorker, "", "memory maintenance sweep")
	backend := memory.NewMaintenanceBackend(k.pipeline, cfg)
	w := worker.New(id, "", backend, k.bus)
	w.Start(wctx, "maintenance sweep")
	k.reg.Deregister(id)
}

// HandleInbound routes an inbound message to the named Channel, creating
// it on first use.
func (k *Kernel) HandleInbound(ctx context.Context, id channel.ID, msg channel.InboundMessage) {
	ch := k.channelFor(id)
	ch.HandleInbound(ctx, msg)
}

// CancelChannel cancels the named Channel's in-flight turn, if any.
func (k *Kernel) CancelChannel(id channel.ID) {
	k.mu.Lock()
	ch, ok := k.channels[id]
	k.mu.Unlock()
	if ok {
		ch.CancelInFlight()
	}
}

// Registry exposes the process Registry for tooling that needs to render
// a status projection outside a Channel's own turn loop.
func (k *Kernel) Registry() *process.Registry { return k.reg }

// Recorder exposes the activity recorder used as status.Project's
// Recorder collaborator.
func (k *Kernel) Recorder() *status.ActivityRecorder { return k.recorder }

// Cortex exposes the shared Cortex so callers can read its current
// bulletin without going through a Channel.
func (k *Kernel) Cortex() *cortex.Cortex { return k.cortex }

func (k *Kernel) channelFor(id channel.ID) *channel.Channel {
	k.mu.Lock()
	defer k.mu.Unlock()
	if ch, ok := k.channels[id]; ok {
		return ch
	}
	ch, _ := channel.New(k.runCtx, id, k.reg, k.bus, k.cortex, k.client, k.pipeline, k.prompt, k.recorder, k.cfg.Identity, k.cfg.ChannelConfig, k.tel)
	k.channels[id] = ch
	return ch
}

// Shutdown stops Cortex's background loop and every Channel's
// in-process-process context, then waits up to cfg.ShutdownGrace for the
// Cortex and maintenance goroutines to finish before returning. Channel
// turn goroutines are cancelled but not waited on. A Channel mid-turn is
// cancelled cooperatively, never torn down forcibly: the same rule
// process.Registry.Cancel follows everywhere else in the kernel.
func (k *Kernel) Shutdown(ctx context.Context) error {
	for _, id := range k.channelIDs() {
		k.CancelChannel(id)
	}
	k.runCancel()

	done := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(done)
	}()

	grace, cancel := context.WithTimeout(ctx, k.cfg.ShutdownGrace)
	defer cancel()

	select {
	case <-done:
		return k.bus.Close()
	case <-grace.Done():
		_ = k.bus.Close()
		return fmt.Errorf("kernel: shutdown grace period exceeded: %w", grace.Err())
	}
}

func (k *Kernel) channelIDs() []channel.ID {
	k.mu.Lock()
	defer k.mu.Unlock()
	ids := make([]channel.ID, 0, len(k.channels))
	for id := range k.channels {
		ids = append(ids, id)
	}
	return ids
}
