// Package branch implements the Branch process: a bounded-step forked
// thought process that runs off its parent Channel's critical path and
// reports back exactly one conclusion. Grounded on the same
// bounded-LLM-step loop shape as worker.LLMBackend and
// runtime/agent/runtime/workflow_loop.go, but with its own step budget
// and a narrower tool surface instead of the full channel tool
// surface. The Channel hands a Branch exactly two tools, memory_recall and
// memory_save; there is no worker-spawn or channel-recall tool for a Branch.
package branch

import (
	"context"
	"fmt"

	"github.com/spacebot/kernel/hooks"
	"github.com/spacebot/kernel/model"
	"github.com/spacebot/kernel/process"
	"github.com/spacebot/kernel/transcript"
)

// ToolHandler executes one branch-surface tool call.
type ToolHandler func(ctx context.Context, input any) (any, error)

// Input is what a Channel hands a new Branch at fork time: a snapshot of
// its history (never a live reference — the Branch must not be able to
// mutate or observe further Channel activity) and the task it was forked
// to pursue.
type Input struct {
	ParentID process.ID
	History  []transcript.Turn
	Task     string
}

// Config bounds a Branch's execution.
type Config struct {
	MaxSteps int
}

// DefaultConfig matches the spec's suggested default of 10 LLM steps.
func DefaultConfig() Config { return Config{MaxSteps: 10} }

// Branch runs a single forked thought process to completion or
// cancellation.
type Branch struct {
	id       process.ID
	client   model.Client
	system   string
	tools    []model.ToolDefinition
	handlers map[string]ToolHandler
	cfg      Config
	bus      hooks.Bus
}

// New returns a Branch ready to Run. id must already be registered with
// the process Registry by the caller (the Channel), so cancellation and
// status projection see it immediately.
func New(id process.ID, client model.Client, system string, tools []model.ToolDefinition, handlers map[string]ToolHandler, cfg Config, bus hooks.Bus) *Branch {
	if cfg.MaxSteps <= 0 {
		cfg = DefaultConfig()
	}
	return &Branch{id: id, client: client, system: system, tools: tools, handlers: handlers, cfg: cfg, bus: bus}
}

// Run executes the bounded step loop and, unless ctx is cancelled first,
// emits exactly one hooks.KindBranchResult event addressed to in.ParentID.
// If ctx is cancelled before a conclusion is reached, Run returns without
// emitting anything: the contract promises the parent Channel at most one
// BranchResult, and a cancelled Branch must not emit one at all.
func (b *Branch) Run(ctx context.Context, in Input) {
	messages := seedMessages(in)

	for step := 0; step < b.cfg.MaxSteps; step++ {
		if ctx.Err() != nil {
			return
		}

		resp, err := b.client.Complete(ctx, model.Request{
			Messages: messages,
			System:   b.system,
			Tools:    b.tools,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.conclude(ctx, in.ParentID, "", fmt.Errorf("branch: model completion failed: %w", err))
			return
		}
		messages = append(messages, resp.Message)

		calls := toolUses(resp.Message)
		if len(calls) == 0 {
			b.conclude(ctx, in.ParentID, textOf(resp.Message), nil)
			return
		}

		results := make([]model.Part, 0, len(calls))
		for _, call := range calls {
			handler, ok := b.handlers[call.Name]
			if !ok {
				results = append(results, model.ToolResultPart{ToolUseID: call.ID, Content: fmt.Sprintf("unknown branch tool %q", call.Name), IsError: true})
				continue
			}
			b.emitTool(ctx, hooks.KindToolStarted, call.Name, in.ParentID, "")
			out, err := handler(ctx, call.Input)
			if err != nil {
				b.emitTool(ctx, hooks.KindToolCompleted, call.Name, in.ParentID, err.Error())
				results = append(results, model.ToolResultPart{ToolUseID: call.ID, Content: err.Error(), IsError: true})
				continue
			}
			b.emitTool(ctx, hooks.KindToolCompleted, call.Name, in.ParentID, "")
			results = append(results, model.ToolResultPart{ToolUseID: call.ID, Content: out})
		}
		messages = append(messages, &model.Message{Role: model.ConversationRoleUser, Parts: results})
	}

	b.conclude(ctx, in.ParentID, textOf(messages[len(messages)-1]), nil)
}

// conclude emits the Branch's single BranchResult event. Called at most
// once per Run, satisfying invariant (ii): a Branch inserts into its
// parent's history at most once.
func (b *Branch) conclude(ctx context.Context, parentID process.ID, text string, err error) {
	if ctx.Err() != nil {
		return
	}
	evt := hooks.Event{
		Kind:      hooks.KindBranchResult,
		ProcessID: string(b.id),
		ParentID:  string(parentID),
		Text:      text,
	}
	if err != nil {
		evt.Err = err
	}
	if b.bus != nil {
		_ = b.bus.Publish(ctx, evt)
	}
}

// emitTool publishes a tool-activity event for the status projection's
// current-tool/tool-call-count tracking, mirroring worker.LLMBackend's
// reporter calls around its own handler dispatch.
func (b *Branch) emitTool(ctx context.Context, kind hooks.Kind, toolName string, parentID process.ID, errText string) {
	if b.bus == nil {
		return
	}
	evt := hooks.Event{
		Kind:      kind,
		ProcessID: string(b.id),
		ParentID:  string(parentID),
		ToolName:  toolName,
	}
	if errText != "" {
		evt.Status = errText
	}
	_ = b.bus.Publish(ctx, evt)
}

func seedMessages(in Input) []*model.Message {
	msgs := make([]*model.Message, 0, len(in.History)+1)
	for _, t := range in.History {
		role := model.ConversationRoleAssistant
		if t.Kind == transcript.TurnUser {
			role = model.ConversationRoleUser
		}
		msgs = append(msgs, &model.Message{Role: role, Parts: []model.Part{model.TextPart{Text: t.Text}}})
	}
	msgs = append(msgs, &model.Message{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: in.Task}}})
	return msgs
}

func toolUses(msg *model.Message) []model.ToolUsePart {
	if msg == nil {
		return nil
	}
	var out []model.ToolUsePart
	for _, p := range msg.Parts {
		if tu, ok := p.(model.ToolUsePart); ok {
			out = append(out, tu)
		}
	}
	return out
}

func textOf(msg *model.Message) string {
	if msg == nil {
		return ""
	}
	var out string
	for _, p := range msg.Parts {
		if tp, ok := p.(model.TextPart); ok {
			out += tp.Text
		}
	}
	return out
}
