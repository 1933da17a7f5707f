// Package engine abstracts a durable-execution backend: the same
// WorkflowFunc runs durably under Temporal or in-process under
// engine/inmem. Within the kernel its only user is worker.TemporalBackend,
// which delegates a Worker's task to a child workflow; the Channel, Branch,
// Compactor and Cortex loops run on plain goroutines and do not go through
// this package.
package engine

import (
	"context"
	"errors"
	"time"
)

// ErrWorkflowNotFound is returned by workflow lookups such as GetWorkflow
// and QueryRunStatus when the target workflow is not known to the engine.
var ErrWorkflowNotFound = errors.New("engine: workflow not found")

// RunStatus reports the lifecycle state of a started workflow.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// WorkflowFunc is the user code run by the engine. It receives a
// WorkflowContext bound to the backend (Temporal or in-memory) and the
// input supplied at start time, and returns the workflow's final result.
type WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

// ActivityFunc is non-durable work invoked from a workflow via
// WorkflowContext.ExecuteActivity. Activities run outside workflow replay
// semantics and may do real I/O.
type ActivityFunc func(ctx context.Context, input any) (any, error)

// WorkflowDefinition registers a named, queue-bound workflow with the
// engine so it can later be started by name.
type WorkflowDefinition struct {
	Name     string
	TaskQueue string
	Handler  WorkflowFunc
}

// ActivityDefinition registers a named activity.
type ActivityDefinition struct {
	Name    string
	Handler ActivityFunc
}

// RetryPolicy controls activity retry behavior.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int
}

// ActivityOptions configures a single ExecuteActivity call.
type ActivityOptions struct {
	TaskQueue           string
	ScheduleToCloseTimeout time.Duration
	StartToCloseTimeout    time.Duration
	RetryPolicy            *RetryPolicy
}

// WorkflowStartRequest starts a new top-level or child workflow run.
type WorkflowStartRequest struct {
	WorkflowName string
	TaskQueue    string
	WorkflowID   string
	Input        any
}

// ChildWorkflowRequest starts a workflow as a child of the calling
// workflow. Children are tracked for visibility only — per the Worker
// package's back-reference design, a parent's Registry entry for a child
// is a relation, never an ownership link that tears the child down.
type ChildWorkflowRequest struct {
	WorkflowName string
	WorkflowID   string
	Input        any
}

// Future resolves to an activity or child workflow's result.
type Future interface {
	Get(ctx context.Context, result any) error
	IsReady() bool
}

// SignalChannel receives signals sent to a running workflow by name.
type SignalChannel interface {
	Receive(ctx context.Context, valuePtr any) bool
	ReceiveAsync(valuePtr any) bool
}

// WorkflowHandle lets the caller that started a workflow observe and
// interact with it without being the workflow itself.
type WorkflowHandle interface {
	WorkflowID() string
	RunID() string
	Get(ctx context.Context, result any) error
	Signal(ctx context.Context, name string, arg any) error
	Cancel(ctx context.Context) error
	Status(ctx context.Context) (RunStatus, error)
}

// ChildWorkflowHandle is the in-workflow counterpart of WorkflowHandle,
// returned by WorkflowContext.StartChildWorkflow.
type ChildWorkflowHandle interface {
	Get(ctx context.Context, result any) error
	Cancel()
}

// WorkflowContext is the only handle user workflow code holds. It is
// deliberately narrow: everything non-deterministic (time, IDs, I/O) must
// go through it so the same code replays correctly under Temporal.
type WorkflowContext interface {
	Context() context.Context
	WorkflowID() string
	RunID() string
	Now() time.Time

	ExecuteActivity(name string, opts ActivityOptions, input any) Future
	ExecuteActivityAsync(name string, opts ActivityOptions, input any) Future
	StartChildWorkflow(req ChildWorkflowRequest) (ChildWorkflowHandle, error)

	SignalChannel(name string) SignalChannel
	SetQueryHandler(name string, handler func() (any, error)) error
}

// Engine starts and supervises workflows. A single Engine instance backs
// every process kind in the kernel; engine/inmem and engine/temporal are
// its two implementations.
type Engine interface {
	RegisterWorkflow(def WorkflowDefinition) error
	RegisterActivity(def ActivityDefinition) error

	StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	GetWorkflow(ctx context.Context, workflowID, runID string) (WorkflowHandle, error)
	QueryRunStatus(ctx context.Context, workflowID string) (RunStatus, error)

	Close() error
}
