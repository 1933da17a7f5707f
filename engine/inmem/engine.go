// Package inmem implements engine.Engine entirely in process memory: every
// workflow runs as a goroutine, ExecuteActivity runs an activity inline,
// ExecuteActivityAsync runs one as a goroutine resolved through a future,
// and signals are delivered over buffered channels. It
// exists so the kernel's process loops can be exercised in unit tests and
// run the demo daemon without a Temporal cluster, while remaining
// interface-identical to engine/temporal.
package inmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spacebot/kernel/engine"
)

type workflowEntry struct {
	def engine.WorkflowDefinition
}

type activityEntry struct {
	def engine.ActivityDefinition
}

// Engine is the in-memory engine.Engine implementation.
type Engine struct {
	mu         sync.RWMutex
	workflows  map[string]workflowEntry
	activities map[string]activityEntry
	runs       map[string]*run
}

// New returns an empty in-memory engine.
func New() *Engine {
	return &Engine{
		workflows:  make(map[string]workflowEntry),
		activities: make(map[string]activityEntry),
		runs:       make(map[string]*run),
	}
}

func (e *Engine) RegisterWorkflow(def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("inmem: workflow definition requires Name and Handler")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[def.Name] = workflowEntry{def: def}
	return nil
}

func (e *Engine) RegisterActivity(def engine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("inmem: activity definition requires Name and Handler")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[def.Name] = activityEntry{def: def}
	return nil
}

func (e *Engine) activity(name string) (engine.ActivityFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.activities[name]
	if !ok {
		return nil, false
	}
	return a.def.Handler, true
}

func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.mu.RLock()
	wf, ok := e.workflows[req.WorkflowName]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("inmem: %w: %s", engine.ErrWorkflowNotFound, req.WorkflowName)
	}

	workflowID := req.WorkflowID
	if workflowID == "" {
		workflowID = fmt.Sprintf("%s-%d", req.WorkflowName, time.Now().UnixNano())
	}

	r := newRun(e, workflowID)
	e.mu.Lock()
	e.runs[workflowID] = r
	e.mu.Unlock()

	go r.start(ctx, wf.def.Handler, req.Input)

	return r, nil
}

func (e *Engine) GetWorkflow(_ context.Context, workflowID, _ string) (engine.WorkflowHandle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[workflowID]
	if !ok {
		return nil, engine.ErrWorkflowNotFound
	}
	return r, nil
}

func (e *Engine) QueryRunStatus(_ context.Context, workflowID string) (engine.RunStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[workflowID]
	if !ok {
		return "", engine.ErrWorkflowNotFound
	}
	return r.status(), nil
}

func (e *Engine) Close() error { return nil }

// run is both the engine.WorkflowHandle and the engine.WorkflowContext for
// a single started workflow.
type run struct {
	eng        *Engine
	workflowID string
	runID      string
	ctx        context.Context
	cancel     context.CancelFunc

	mu       sync.Mutex
	st       engine.RunStatus
	result   any
	err      error
	done     chan struct{}
	signals  map[string]*signalChannel
	queries  map[string]func() (any, error)
}

func newRun(eng *Engine, workflowID string) *run {
	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		eng:        eng,
		workflowID: workflowID,
		runID:      fmt.Sprintf("run-%d", time.Now().UnixNano()),
		ctx:        ctx,
		cancel:     cancel,
		st:         engine.RunStatusRunning,
		done:       make(chan struct{}),
		signals:    make(map[string]*signalChannel),
		queries:    make(map[string]func() (any, error)),
	}
}

func (r *run) start(_ context.Context, handler engine.WorkflowFunc, input any) {
	defer close(r.done)
	result, err := handler(r, input)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result = result
	r.err = err
	switch {
	case err != nil && r.ctx.Err() != nil:
		r.st = engine.RunStatusCancelled
	case err != nil:
		r.st = engine.RunStatusFailed
	default:
		r.st = engine.RunStatusCompleted
	}
}

func (r *run) status() engine.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st
}

// WorkflowHandle

func (r *run) WorkflowID() string { return r.workflowID }
func (r *run) RunID() string      { return r.runID }

func (r *run) Get(ctx context.Context, result any) error {
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	return assignResult(result, r.result)
}

func (r *run) Signal(_ context.Context, name string, arg any) error {
	r.mu.Lock()
	ch, ok := r.signals[name]
	if !ok {
		ch = newSignalChannel()
		r.signals[name] = ch
	}
	r.mu.Unlock()
	ch.send(arg)
	return nil
}

func (r *run) Cancel(context.Context) error {
	r.cancel()
	return nil
}

func (r *run) Status(context.Context) (engine.RunStatus, error) { return r.status(), nil }

// WorkflowContext

func (r *run) Context() context.Context { return r.ctx }
func (r *run) Now() time.Time           { return time.Now() }

func (r *run) ExecuteActivity(name string, opts engine.ActivityOptions, input any) engine.Future {
	fut := newFuture()
	fn, ok := r.eng.activity(name)
	if !ok {
		fut.resolve(nil, fmt.Errorf("inmem: unknown activity %q", name))
		return fut
	}
	actCtx := r.ctx
	if opts.StartToCloseTimeout > 0 {
		var cancel context.CancelFunc
		actCtx, cancel = context.WithTimeout(actCtx, opts.StartToCloseTimeout)
		defer cancel()
	}
	result, err := fn(actCtx, input)
	fut.resolve(result, err)
	return fut
}

func (r *run) ExecuteActivityAsync(name string, opts engine.ActivityOptions, input any) engine.Future {
	fut := newFuture()
	fn, ok := r.eng.activity(name)
	if !ok {
		fut.resolve(nil, fmt.Errorf("inmem: unknown activity %q", name))
		return fut
	}
	go func() {
		actCtx := r.ctx
		var cancel context.CancelFunc
		if opts.StartToCloseTimeout > 0 {
			actCtx, cancel = context.WithTimeout(actCtx, opts.StartToCloseTimeout)
			defer cancel()
		}
		result, err := fn(actCtx, input)
		fut.resolve(result, err)
	}()
	return fut
}

func (r *run) StartChildWorkflow(req engine.ChildWorkflowRequest) (engine.ChildWorkflowHandle, error) {
	handle, err := r.eng.StartWorkflow(r.ctx, engine.WorkflowStartRequest{
		WorkflowName: req.WorkflowName,
		WorkflowID:   req.WorkflowID,
		Input:        req.Input,
	})
	if err != nil {
		return nil, err
	}
	return childHandle{handle: handle}, nil
}

func (r *run) SignalChannel(name string) engine.SignalChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.signals[name]
	if !ok {
		ch = newSignalChannel()
		r.signals[name] = ch
	}
	return ch
}

func (r *run) SetQueryHandler(name string, handler func() (any, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries[name] = handler
	return nil
}

type childHandle struct {
	handle engine.WorkflowHandle
}

func (c childHandle) Get(ctx context.Context, result any) error { return c.handle.Get(ctx, result) }
func (c childHandle) Cancel()                                   { _ = c.handle.Cancel(context.Background()) }

type future struct {
	ready  chan struct{}
	result any
	err    error
}

func newFuture() *future { return &future{ready: make(chan struct{})} }

func (f *future) resolve(result any, err error) {
	f.result = result
	f.err = err
	close(f.ready)
}

func (f *future) Get(ctx context.Context, result any) error {
	select {
	case <-f.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	return assignResult(result, f.result)
}

func (f *future) IsReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

type signalChannel struct {
	ch chan any
}

func newSignalChannel() *signalChannel {
	return &signalChannel{ch: make(chan any, 64)}
}

func (s *signalChannel) send(v any) {
	select {
	case s.ch <- v:
	default:
	}
}

func (s *signalChannel) Receive(ctx context.Context, valuePtr any) bool {
	select {
	case v := <-s.ch:
		_ = assignResult(valuePtr, v)
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *signalChannel) ReceiveAsync(valuePtr any) bool {
	select {
	case v := <-s.ch:
		_ = assignResult(valuePtr, v)
		return true
	default:
		return false
	}
}

// assignResult copies src into the value dst points to. It supports both
// concrete pointer targets and *any, which is what lets workflow code
// written against `any` results interoperate with typed callers.
func assignResult(dst any, src any) error {
	if dst == nil {
		return nil
	}
	switch d := dst.(type) {
	case *any:
		*d = src
		return nil
	default:
		return copyInto(dst, src)
	}
}
