package worker

import (
	"context"
	"fmt"

	"github.com/spacebot/kernel/engine"
)

// TaskInput is the payload handed to the child workflow a TemporalBackend
// delegates to.
type TaskInput struct {
	Task string
}

// TaskOutput is the result a delegated child workflow must return.
type TaskOutput struct {
	Result string
}

// TemporalBackend delegates a Worker's task to a durable child workflow.
// The Worker keeps a back-reference to the child's WorkflowID so status
// queries and cancellation can reach it, but — as with the process
// Registry's parent/child relation generally — that reference is a
// relation for visibility, never an ownership link that tears the child
// down when the Worker itself is torn down.
type TemporalBackend struct {
	wctx         engine.WorkflowContext
	workflowName string
	workflowID   string

	handle engine.ChildWorkflowHandle
}

// NewTemporalBackend returns a TemporalBackend that, when Run, starts
// workflowName as a child of the workflow wctx belongs to.
func NewTemporalBackend(wctx engine.WorkflowContext, workflowName, workflowID string) *TemporalBackend {
	return &TemporalBackend{wctx: wctx, workflowName: workflowName, workflowID: workflowID}
}

func (b *TemporalBackend) Run(ctx context.Context, task string, rep Reporter) {
	rep.SetStatus(ctx, "starting child workflow")

	handle, err := b.wctx.StartChildWorkflow(engine.ChildWorkflowRequest{
		WorkflowName: b.workflowName,
		WorkflowID:   b.workflowID,
		Input:        TaskInput{Task: task},
	})
	if err != nil {
		rep.Failed(ctx, fmt.Errorf("worker: starting child workflow %s: %w", b.workflowName, err))
		return
	}
	b.handle = handle

	var out TaskOutput
	if err := handle.Get(ctx, &out); err != nil {
		rep.Failed(ctx, fmt.Errorf("worker: child workflow %s: %w", b.workflowID, err))
		return
	}
	rep.Done(ctx, out.Result)
}

// FollowUp is not supported by TemporalBackend: a running child workflow
// receives additional input via its own signal channel, not through the
// Worker that started it, since only the child's own workflow code may
// safely mutate its replay state.
func (b *TemporalBackend) FollowUp(context.Context, string) error {
	return fmt.Errorf("worker: temporal backend does not support direct follow-up; signal the child workflow instead")
}

func (b *TemporalBackend) Cancel(context.Context) error {
	if b.handle != nil {
		b.handle.Cancel()
	}
	return nil
}
