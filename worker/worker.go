// Package worker implements the Worker process: a state-machine-driven
// task runner with a pluggable Backend capability set. Two concrete
// backends are provided — LLMBackend (a bounded LLM tool loop) and
// TemporalBackend (delegates to a durable child workflow/activity).
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/spacebot/kernel/hooks"
	"github.com/spacebot/kernel/process"
)

// State is the closed set of Worker lifecycle states. Done, Failed, and
// Cancelled are terminal and absorbing: invariant (iii) says a
// WorkerState never leaves a terminal state.
type State string

const (
	StateRunning          State = "running"
	StateWaitingForInput  State = "waiting_for_input"
	StateDone             State = "done"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

// allowedTransitions is the explicit, validated state transition table.
// Any transition not listed here is rejected by Worker.transition.
var allowedTransitions = map[State][]State{
	StateRunning:         {StateRunning, StateWaitingForInput, StateDone, StateFailed, StateCancelled},
	StateWaitingForInput: {StateRunning, StateCancelled, StateFailed},
	StateDone:            {},
	StateFailed:          {},
	StateCancelled:       {},
}

func isAllowed(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reporter is how a Backend reports progress and outcome back to its
// Worker. Implementations update Worker state and emit hooks.Events;
// Backend implementations never touch the Bus or state directly.
type Reporter interface {
	SetStatus(ctx context.Context, status string)
	ToolStarted(ctx context.Context, name string)
	ToolCompleted(ctx context.Context, name string)
	WaitForInput(ctx context.Context)
	Done(ctx context.Context, result string)
	Failed(ctx context.Context, err error)
}

// Backend is the capability set a Worker delegates task execution to.
type Backend interface {
	// Run starts task execution and blocks until a terminal state is
	// reached or ctx is cancelled, reporting progress via rep.
	Run(ctx context.Context, task string, rep Reporter)
	// FollowUp delivers additional input to a worker currently in
	// StateWaitingForInput.
	FollowUp(ctx context.Context, message string) error
	// Cancel cooperatively stops the backend; Reporter.Failed or
	// Reporter.Done is still expected to be called exactly once.
	Cancel(ctx context.Context) error
}

// Worker tracks one task's lifecycle and forwards Backend progress onto
// the process event bus.
type Worker struct {
	id      process.ID
	channel string
	backend Backend
	bus     hooks.Bus

	mu        sync.Mutex
	state     State
	result    string
	err       error
	termOnce  sync.Once
}

// New returns a Worker in StateRunning, ready to have Start called.
func New(id process.ID, channelID string, backend Backend, bus hooks.Bus) *Worker {
	return &Worker{id: id, channel: channelID, backend: backend, bus: bus, state: StateRunning}
}

// Start runs the backend in the current goroutine, blocking until a
// terminal state is reached. Callers that must not block (the Channel)
// invoke this inside their own goroutine.
func (w *Worker) Start(ctx context.Context, task string) {
	w.backend.Run(ctx, task, (*reporter)(w))
}

// FollowUp routes additional input to the backend; only valid while the
// worker is waiting for input.
func (w *Worker) FollowUp(ctx context.Context, message string) error {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()
	if state != StateWaitingForInput {
		return fmt.Errorf("worker: follow-up rejected, not waiting for input (state=%s)", state)
	}
	if err := w.transition(StateRunning); err != nil {
		return err
	}
	return w.backend.FollowUp(ctx, message)
}

// Cancel cooperatively cancels the backend.
func (w *Worker) Cancel(ctx context.Context) error {
	return w.backend.Cancel(ctx)
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Snapshot reports the worker's current state and, if terminal, its
// result or error.
type Snapshot struct {
	State  State
	Result string
	Err    error
}

func (w *Worker) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{State: w.state, Result: w.result, Err: w.err}
}

func (w *Worker) transition(to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state.Terminal() {
		return fmt.Errorf("worker: cannot leave terminal state %s", w.state)
	}
	if !isAllowed(w.state, to) {
		return fmt.Errorf("worker: illegal transition %s -> %s", w.state, to)
	}
	w.state = to
	return nil
}

// reporter implements Reporter against a Worker's own state and bus.
type reporter Worker

func (r *reporter) worker() *Worker { return (*Worker)(r) }

func (r *reporter) emit(ctx context.Context, evt hooks.Event) {
	w := r.worker()
	evt.ProcessID = string(w.id)
	evt.ChannelID = w.channel
	if w.bus != nil {
		_ = w.bus.Publish(ctx, evt)
	}
}

func (r *reporter) SetStatus(ctx context.Context, status string) {
	r.emit(ctx, hooks.Event{Kind: hooks.KindStatusUpdate, Status: status})
}

func (r *reporter) ToolStarted(ctx context.Context, name string) {
	r.emit(ctx, hooks.Event{Kind: hooks.KindToolStarted, ToolName: name})
}

func (r *reporter) ToolCompleted(ctx context.Context, name string) {
	r.emit(ctx, hooks.Event{Kind: hooks.KindToolCompleted, ToolName: name})
}

func (r *reporter) WaitForInput(ctx context.Context) {
	w := r.worker()
	_ = w.transition(StateWaitingForInput)
	r.emit(ctx, hooks.Event{Kind: hooks.KindStatusUpdate, Status: string(StateWaitingForInput)})
}

func (r *reporter) Done(ctx context.Context, result string) {
	w := r.worker()
	w.termOnce.Do(func() {
		_ = w.transition(StateDone)
		w.mu.Lock()
		w.result = result
		w.mu.Unlock()
		r.emit(ctx, hooks.Event{Kind: hooks.KindWorkerTerminal, Status: string(StateDone), Text: result})
	})
}

func (r *reporter) Failed(ctx context.Context, err error) {
	w := r.worker()
	w.termOnce.Do(func() {
		to := StateFailed
		if ctx.Err() != nil {
			to = StateCancelled
		}
		_ = w.transition(to)
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		r.emit(ctx, hooks.Event{Kind: hooks.KindWorkerTerminal, Status: string(to), Err: err})
	})
}
