// Package channel implements the Channel process: the single
// serialization point for a conversation. It assembles each turn's
// system prompt, runs a bounded LLM tool loop over the channel tool
// surface (reply, spawn branch, spawn worker, follow up an existing
// worker, cancel, react, skip), coalesces inbound messages that arrive
// mid-turn, and never blocks waiting on a spawned Branch or Worker.
//
// Grounded on runtime/agent/runtime/workflow_loop.go's bounded-loop shape
// and runtime/agent/session/session.go's per-conversation serialization,
// adapted from a durable-run-resumption design to this kernel's
// turn-in-flight/coalescing model.
package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spacebot/kernel/branch"
	"github.com/spacebot/kernel/compactor"
	"github.com/spacebot/kernel/cortex"
	"github.com/spacebot/kernel/hooks"
	"github.com/spacebot/kernel/memory"
	"github.com/spacebot/kernel/model"
	"github.com/spacebot/kernel/process"
	"github.com/spacebot/kernel/status"
	"github.com/spacebot/kernel/telemetry"
	"github.com/spacebot/kernel/transcript"
	"github.com/spacebot/kernel/worker"
)

// DefaultContextBudget is the assumed size (in transcript.Ledger's
// EstimateSize units) a Channel's history is budgeted against when no
// explicit CompactorThresholds are configured. The spec's 80%/85%/95%
// tier percentages are taken against this budget.
const DefaultContextBudget = 8000

// ID identifies a conversation. Unlike process.ID, which is allocated
// fresh every time a process is registered, a channel ID is stable for
// the conversation's lifetime.
type ID string

// InboundMessage is one user message delivered to HandleInbound.
type InboundMessage struct {
	Sender         string
	Text           string
	IdempotencyKey string
	ReceivedAt     time.Time
}

// Config bounds a Channel's turn execution and compaction policy.
type Config struct {
	MaxSteps              int
	MaxConcurrentBranches int
	BranchConfig          branch.Config
	CompactorThresholds   compactor.Thresholds
	CompactorCooldown     time.Duration
	IdempotencyWindow     int
}

// DefaultConfig matches the spec's suggested defaults: 5 bounded LLM
// steps per turn and up to 3 concurrent branches.
func DefaultConfig() Config {
	return Config{
		MaxSteps:              5,
		MaxConcurrentBranches: 3,
		BranchConfig:          branch.DefaultConfig(),
		CompactorThresholds: compactor.Thresholds{
			Soft:      int(0.80 * DefaultContextBudget),
			Hard:      int(0.85 * DefaultContextBudget),
			Emergency: int(0.95 * DefaultContextBudget),
		},
		CompactorCooldown:     30 * time.Second,
		IdempotencyWindow:     256,
	}
}

// PromptAssembler builds a turn's system prompt from identity files, the
// current Bulletin, recent compaction summaries, and the current
// StatusBlock. Kept as a collaborator so Channel's control flow does not
// hardcode prompt formatting.
type PromptAssembler interface {
	Assemble(ctx context.Context, identity []string, bulletin cortex.Bulletin, recentSummaries []transcript.Turn, blocks []status.Block, perTurnPrompt string) string
}

// Channel is one live conversation's turn loop.
type Channel struct {
	id       ID
	procID   process.ID
	reg      *process.Registry
	bus      hooks.Bus
	cortex   *cortex.Cortex
	client   model.Client
	pipeline *memory.Pipeline
	prompt   PromptAssembler
	recorder status.Recorder
	cfg      Config
	tel      telemetry.Set

	identity []string

	history   *transcript.Ledger
	dedupe    *dedupeWindow
	compactor *compactor.Compactor

	mu            sync.Mutex
	turnInFlight  bool
	incoming      []InboundMessage
	branches      map[process.ID]context.CancelCauseFunc
	workers       map[process.ID]*worker.Worker
	workerNotify  map[process.ID]bool
	cancelCurrent context.CancelCauseFunc
}

// New returns a Channel registered with reg under KindChannel. pipeline
// may be nil, in which case the Branch still sees memory_recall and
// memory_save but both return a "memory pipeline not configured" error,
// and the compaction path never writes Memory.
func New(ctx context.Context, id ID, reg *process.Registry, bus hooks.Bus, cx *cortex.Cortex, client model.Client, pipeline *memory.Pipeline, prompt PromptAssembler, recorder status.Recorder, identity []string, cfg Config, tel telemetry.Set) (*Channel, context.Context) {
	if tel.Logger == nil {
		tel = telemetry.Noop()
	}
	if cfg.MaxSteps <= 0 {
		cfg = DefaultConfig()
	}
	procID, pctx, _ := reg.Register(ctx, process.KindChannel, "", string(id))

	c := &Channel{
		id:           id,
		procID:       procID,
		reg:          reg,
		bus:          bus,
		cortex:       cx,
		client:       client,
		pipeline:     pipeline,
		prompt:       prompt,
		recorder:     recorder,
		identity:     identity,
		cfg:          cfg,
		tel:          tel,
		history:      transcript.NewLedger(),
		dedupe:       newDedupeWindow(cfg.IdempotencyWindow),
		branches:     make(map[process.ID]context.CancelCauseFunc),
		workers:      make(map[process.ID]*worker.Worker),
		workerNotify: make(map[process.ID]bool),
	}

	c.compactor = compactor.New(cfg.CompactorThresholds, cfg.CompactorCooldown, c.compact)

	if bus != nil {
		bus.Register(hooks.SubscriberFunc(func(ctx context.Context, evt hooks.Event) error {
			c.onEvent(ctx, evt)
			return nil
		}))
	}

	return c, pctx
}

// ID returns the conversation identifier.
func (c *Channel) ID() ID { return c.id }

// ProcessID returns the registry identifier this Channel is registered
// under.
func (c *Channel) ProcessID() process.ID { return c.procID }

// HandleInbound enqueues a user message. If no turn is in flight it
// begins a new one; otherwise the message is coalesced into the incoming
// buffer and picked up by the next turn. Duplicate idempotency keys
// within the dedupe window are silently dropped.
func (c *Channel) HandleInbound(ctx context.Context, msg InboundMessage) {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	c.mu.Lock()
	if c.dedupe.seen(msg.IdempotencyKey) {
		c.mu.Unlock()
		return
	}
	c.incoming = append(c.incoming, msg)
	startTurn := !c.turnInFlight
	if startTurn {
		c.turnInFlight = true
	}
	c.mu.Unlock()

	if startTurn {
		go c.runTurn(ctx)
	}
}

// CancelInFlight cancels the current turn and every branch/worker it
// spawned that was not already detached as an interactive long-lived
// worker (notify=false workers started as detached are left running;
// only the in-flight turn's own cancellation scope is cut).
func (c *Channel) CancelInFlight() {
	c.mu.Lock()
	cancel := c.cancelCurrent
	branches := make([]context.CancelCauseFunc, 0, len(c.branches))
	for _, cf := range c.branches {
		branches = append(branches, cf)
	}
	notifyWorkers := make([]*worker.Worker, 0, len(c.workers))
	for id, w := range c.workers {
		if c.workerNotify[id] {
			notifyWorkers = append(notifyWorkers, w)
		}
	}
	c.mu.Unlock()

	cause := fmt.Errorf("channel: turn cancelled")
	if cancel != nil {
		cancel(cause)
	}
	for _, cf := range branches {
		cf(cause)
	}
	for _, w := range notifyWorkers {
		_ = w.Cancel(context.Background())
	}
}

// InjectBranchResult appends a BranchConclusion turn to history and, if
// no turn is in flight, begins a new agent turn so the conclusion can be
// acted on.
func (c *Channel) InjectBranchResult(ctx context.Context, conclusion string, branchErr error) {
	kind := transcript.TurnBranchResult
	text := conclusion
	if branchErr != nil {
		text = fmt.Sprintf("branch failed: %v", branchErr)
	}
	c.history.Append(transcript.Turn{Kind: kind, Text: text, CreatedAt: time.Now().UTC()})

	c.mu.Lock()
	startTurn := !c.turnInFlight
	if startTurn {
		c.turnInFlight = true
	}
	c.mu.Unlock()

	if startTurn {
		go c.runTurn(ctx)
	}
}

// HandleWorkerTerminal records a worker's outcome and, if the worker was
// spawned with notify=true, appends a WorkerTerminalNotice turn.
func (c *Channel) HandleWorkerTerminal(ctx context.Context, workerID process.ID, outcome worker.Snapshot) {
	c.mu.Lock()
	notify := c.workerNotify[workerID]
	delete(c.workers, workerID)
	delete(c.workerNotify, workerID)
	c.mu.Unlock()

	if !notify {
		return
	}

	text := outcome.Result
	if outcome.Err != nil {
		text = fmt.Sprintf("worker %s: %v", outcome.State, outcome.Err)
	}
	c.history.Append(transcript.Turn{
		Kind:      transcript.TurnWorkerTerminal,
		Text:      text,
		CreatedAt: time.Now().UTC(),
		Meta:      map[string]any{"worker_id": string(workerID), "state": string(outcome.State)},
	})
}

// onEvent routes bus-wide events addressed to this Channel (branch
// results whose ParentID matches, worker terminal notices for workers
// this Channel spawned).
func (c *Channel) onEvent(ctx context.Context, evt hooks.Event) {
	switch evt.Kind {
	case hooks.KindBranchResult:
		if evt.ParentID != string(c.procID) {
			return
		}
		c.mu.Lock()
		delete(c.branches, process.ID(evt.ProcessID))
		c.mu.Unlock()
		c.InjectBranchResult(ctx, evt.Text, evt.Err)
	case hooks.KindWorkerTerminal:
		c.mu.Lock()
		w, ok := c.workers[process.ID(evt.ProcessID)]
		c.mu.Unlock()
		if !ok {
			return
		}
		c.HandleWorkerTerminal(ctx, process.ID(evt.ProcessID), w.Snapshot())
	}
}

// History exposes the channel's transcript for status/debug tooling.
// Callers must not mutate the returned turns.
func (c *Channel) History() *transcript.Ledger { return c.history }
