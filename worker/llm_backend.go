package worker

import (
	"context"
	"fmt"

	"github.com/spacebot/kernel/model"
)

// ToolHandler executes a single tool call and returns its result payload.
type ToolHandler func(ctx context.Context, input any) (any, error)

// LLMBackend runs a bounded tool-calling loop against a model.Client,
// grounded on the same bounded-step pattern the Channel/Branch turn loop
// uses: it keeps calling the model and executing whatever tools it
// requests until the model stops requesting tools or the step budget is
// exhausted. It never enters StateWaitingForInput; a FollowUp message is
// buffered (one at a time) but Run does not read it.
type LLMBackend struct {
	client      model.Client
	system      string
	tools       []model.ToolDefinition
	handlers    map[string]ToolHandler
	maxSteps    int
	followUp    chan string
}

// NewLLMBackend returns an LLMBackend bounded to maxSteps model calls per
// Run invocation.
func NewLLMBackend(client model.Client, system string, tools []model.ToolDefinition, handlers map[string]ToolHandler, maxSteps int) *LLMBackend {
	if maxSteps <= 0 {
		maxSteps = 8
	}
	return &LLMBackend{
		client:   client,
		system:   system,
		tools:    tools,
		handlers: handlers,
		maxSteps: maxSteps,
		followUp: make(chan string, 1),
	}
}

func (b *LLMBackend) Run(ctx context.Context, task string, rep Reporter) {
	messages := []*model.Message{{
		Role:  model.ConversationRoleUser,
		Parts: []model.Part{model.TextPart{Text: task}},
	}}

	for step := 0; step < b.maxSteps; step++ {
		if ctx.Err() != nil {
			rep.Failed(ctx, ctx.Err())
			return
		}

		resp, err := b.client.Complete(ctx, model.Request{
			Messages: messages,
			System:   b.system,
			Tools:    b.tools,
		})
		if err != nil {
			rep.Failed(ctx, fmt.Errorf("worker: model completion failed: %w", err))
			return
		}
		messages = append(messages, resp.Message)

		toolCalls := collectToolUses(resp.Message)
		if len(toolCalls) == 0 {
			rep.Done(ctx, textOf(resp.Message))
			return
		}

		resultParts := make([]model.Part, 0, len(toolCalls))
		for _, call := range toolCalls {
			rep.ToolStarted(ctx, call.Name)
			handler, ok := b.handlers[call.Name]
			if !ok {
				resultParts = append(resultParts, model.ToolResultPart{
					ToolUseID: call.ID,
					Content:   fmt.Sprintf("unknown tool %q", call.Name),
					IsError:   true,
				})
				rep.ToolCompleted(ctx, call.Name)
				continue
			}
			result, err := handler(ctx, call.Input)
			if err != nil {
				resultParts = append(resultParts, model.ToolResultPart{ToolUseID: call.ID, Content: err.Error(), IsError: true})
			} else {
				resultParts = append(resultParts, model.ToolResultPart{ToolUseID: call.ID, Content: result})
			}
			rep.ToolCompleted(ctx, call.Name)
		}
		messages = append(messages, &model.Message{Role: model.ConversationRoleUser, Parts: resultParts})
	}

	rep.Done(ctx, textOf(messages[len(messages)-1]))
}

func (b *LLMBackend) FollowUp(ctx context.Context, message string) error {
	select {
	case b.followUp <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LLMBackend) Cancel(context.Context) error { return nil }

func collectToolUses(msg *model.Message) []model.ToolUsePart {
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
