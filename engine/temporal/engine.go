// Package temporal adapts engine.Engine to a real go.temporal.io/sdk
// client and worker, so the kernel's process loops can run durably across
// restarts. It registers the same WorkflowFunc/ActivityFunc values the
// in-memory engine runs, wrapped so Temporal's replay-safe workflow.Context
// satisfies engine.WorkflowContext.
package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/spacebot/kernel/engine"
)

// Options configures the Temporal-backed engine.
type Options struct {
	Client    client.Client
	TaskQueue string
}

// Engine is the Temporal-backed engine.Engine implementation.
type Engine struct {
	client    client.Client
	taskQueue string
	worker    worker.Worker
}

// New returns an engine.Engine backed by a live Temporal client. Callers
// must invoke Start after registering every workflow and activity.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("temporal: client is required")
	}
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal: task queue is required")
	}
	w := worker.New(opts.Client, opts.TaskQueue, worker.Options{})
	return &Engine{client: opts.Client, taskQueue: opts.TaskQueue, worker: w}, nil
}

// Start begins polling the task queue. Call after all RegisterWorkflow and
// RegisterActivity calls have completed.
func (e *Engine) Start() error { return e.worker.Start() }

func (e *Engine) RegisterWorkflow(def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal: workflow definition requires Name and Handler")
	}
	e.worker.RegisterWorkflowWithOptions(wrapWorkflow(def.Handler), workflow.RegisterOptions{Name: def.Name})
	return nil
}

func (e *Engine) RegisterActivity(def engine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return fmt.Errorf("temporal: activity definition requires Name and Handler")
	}
	handler := def.Handler
	e.worker.RegisterActivityWithOptions(func(ctx context.Context, input any) (any, error) {
		return handler(ctx, input)
	}, activity.RegisterOptions{Name: def.Name})
	return nil
}

func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	taskQueue := req.TaskQueue
	if taskQueue == "" {
		taskQueue = e.taskQueue
	}
	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        req.WorkflowID,
		TaskQueue: taskQueue,
	}, req.WorkflowName, req.Input)
	if err != nil {
		return nil, err
	}
	return &handle{client: e.client, run: run}, nil
}

func (e *Engine) GetWorkflow(_ context.Context, workflowID, runID string) (engine.WorkflowHandle, error) {
	run := e.client.GetWorkflow(context.Background(), workflowID, runID)
	return &handle{client: e.client, run: run}, nil
}

func (e *Engine) QueryRunStatus(ctx context.Context, workflowID string) (engine.RunStatus, error) {
	desc, err := e.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return "", err
	}
	info := desc.GetWorkflowExecutionInfo()
	if info == nil {
		return "", engine.ErrWorkflowNotFound
	}
	return mapStatus(info.GetStatus()), nil
}

func (e *Engine) Close() error {
	e.worker.Stop()
	e.client.Close()
	return nil
}

type handle struct {
	client client.Client
	run    client.WorkflowRun
}

func (h *handle) WorkflowID() string { return h.run.GetID() }
func (h *handle) RunID() string      { return h.run.GetRunID() }

func (h *handle) Get(ctx context.Context, result any) error {
	return h.run.Get(ctx, result)
}

func (h *handle) Signal(ctx context.Context, name string, arg any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, arg)
}

func (h *handle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}

func (h *handle) Status(ctx context.Context) (engine.RunStatus, error) {
	desc, err := h.client.DescribeWorkflowExecution(ctx, h.run.GetID(), h.run.GetRunID())
	if err != nil {
		return "", err
	}
	info := desc.GetWorkflowExecutionInfo()
	if info == nil {
		return "", engine.ErrWorkflowNotFound
	}
	return mapStatus(info.GetStatus()), nil
}

// wfContext adapts a Temporal workflow.Context to engine.WorkflowContext.
type wfContext struct {
	ctx workflow.Context
}

func wrapWorkflow(fn engine.WorkflowFunc) any {
	return func(ctx workflow.Context, input any) (any, error) {
		return fn(&wfContext{ctx: ctx}, input)
	}
}

// Context returns context.Background(): Temporal workflow code must never
// perform real I/O directly, so there is deliberately no live
// context.Context inside a workflow. Activities (which do receive a real
// context.Context as their first argument) are the only I/O boundary.
func (c *wfContext) Context() context.Context { return context.Background() }

func (c *wfContext) WorkflowID() string { return workflow.GetInfo(c.ctx).WorkflowExecution.ID }
func (c *wfContext) RunID() string      { return workflow.GetInfo(c.ctx).WorkflowExecution.RunID }
func (c *wfContext) Now() time.Time     { return workflow.Now(c.ctx) }

func (c *wfContext) ExecuteActivity(name string, opts engine.ActivityOptions, input any) engine.Future {
	ctx := workflow.WithActivityOptions(c.ctx, toActivityOptions(opts))
	fut := workflow.ExecuteActivity(ctx, name, input)
	return &future{wfCtx: c.ctx, fut: fut}
}

func (c *wfContext) ExecuteActivityAsync(name string, opts engine.ActivityOptions, input any) engine.Future {
	return c.ExecuteActivity(name, opts, input)
}

func (c *wfContext) StartChildWorkflow(req engine.ChildWorkflowRequest) (engine.ChildWorkflowHandle, error) {
	ctx := workflow.WithChildOptions(c.ctx, workflow.ChildWorkflowOptions{WorkflowID: req.WorkflowID})
	childFut := workflow.ExecuteChildWorkflow(ctx, req.WorkflowName, req.Input)
	var exec workflow.Execution
	if err := childFut.GetChildWorkflowExecution().Get(c.ctx, &exec); err != nil {
		return nil, err
	}
	return &childHandle{wfCtx: c.ctx, fut: childFut}, nil
}

func (c *wfContext) SignalChannel(name string) engine.SignalChannel {
	return &signalChannel{ctx: c.ctx, ch: workflow.GetSignalChannel(c.ctx, name)}
}

func (c *wfContext) SetQueryHandler(name string, handler func() (any, error)) error {
	return workflow.SetQueryHandler(c.ctx, name, handler)
}

// future adapts a Temporal workflow.Future to engine.Future. It ignores
// the context.Context passed to Get and resolves against the workflow.Context
// captured when the activity was scheduled, since only that context is
// replay-safe.
type future struct {
	wfCtx workflow.Context
	fut   workflow.Future
}

func (f *future) Get(_ context.Context, result any) error {
	return f.fut.Get(f.wfCtx, result)
}

func (f *future) IsReady() bool { return f.fut.IsReady() }

type childHandle struct {
	wfCtx workflow.Context
	fut   workflow.ChildWorkflowFuture
}

func (h *childHandle) Get(_ context.Context, result any) error {
	return h.fut.Get(h.wfCtx, result)
}

func (h *childHandle) Cancel() {}

type signalChannel struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

func (s *signalChannel) Receive(_ context.Context, valuePtr any) bool {
	return s.ch.Receive(s.ctx, valuePtr)
}

func (s *signalChannel) ReceiveAsync(valuePtr any) bool {
	return s.ch.ReceiveAsync(valuePtr)
}

func toActivityOptions(opts engine.ActivityOptions) workflow.ActivityOptions {
	ao := workflow.ActivityOptions{
		TaskQueue:              opts.TaskQueue,
		ScheduleToCloseTimeout: opts.ScheduleToCloseTimeout,
		StartToCloseTimeout:    opts.StartToCloseTimeout,
	}
	if opts.RetryPolicy != nil {
		ao.RetryPolicy = &temporal.RetryPolicy{
			InitialInterval:    opts.RetryPolicy.InitialInterval,
			BackoffCoefficient: opts.RetryPolicy.BackoffCoefficient,
			MaximumInterval:    opts.RetryPolicy.MaximumInterval,
			MaximumAttempts:    int32(opts.RetryPolicy.MaximumAttempts),
		}
	}
	return ao
}

func mapStatus(status int32) engine.RunStatus {
	switch status {
	case 1: // WORKFLOW_EXECUTION_STATUS_RUNNING
		return engine.RunStatusRunning
	case 2: // WORKFLOW_EXECUTION_STATUS_COMPLETED
		return engine.RunStatusCompleted
	case 3: // WORKFLOW_EXECUTION_STATUS_FAILED
		return engine.RunStatusFailed
	case 4: // WORKFLOW_EXECUTION_STATUS_CANCELED
		return engine.RunStatusCancelled
	default:
		return engine.RunStatusRunning
	}
}

