package anthropic

import (
	"github.com/anthropics/anthropic-sdk-go"

	"github.com/spacebot/kernel/model"
)

// anthropicMessageStream is the concrete streaming response type returned
// by Messages.NewStreaming.
type anthropicMessageStream = anthropic.Stream[anthropic.MessageStreamEventUnion]

func toMessageParams(modelName string, maxTokens int, req model.Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(modelName),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages:    toAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}
	if req.Thinking.Enabled {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.Thinking.Budget))
	}
	return params
}

func toAnthropicMessages(msgs []*model.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		var blocks []anthropic.ContentBlockParamUnion
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				blocks = append(blocks, anthropic.NewTextBlock(v.Text))
			case model.ToolUsePart:
				blocks = append(blocks, anthropic.NewToolUseBlock(v.ID, v.Input, v.Name))
			case model.ToolResultPart:
				blocks = append(blocks, anthropic.NewToolResultBlock(v.ToolUseID, resultToString(v.Content), v.IsError))
			case model.ThinkingPart:
				if len(v.Redacted) > 0 {
					blocks = append(blocks, anthropic.NewRedactedThinkingBlock(string(v.Redacted)))
				} else {
					blocks = append(blocks, anthropic.NewThinkingBlock(v.Signature, v.Text))
				}
			}
		}
		role := anthropic.MessageParamRoleUser
		if m.Role == model.ConversationRoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

func toAnthropicTools(defs []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: d.InputSchema["properties"],
		}, d.Name))
	}
	return out
}

func fromAnthropicMessage(msg *anthropic.Message) *model.Response {
	if msg == nil {
		return &model.Response{Message: &model.Message{Role: model.ConversationRoleAssistant}}
	}
	out := &model.Message{Role: model.ConversationRoleAssistant}
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Parts = append(out.Parts, model.TextPart{Text: v.Text})
		case anthropic.ToolUseBlock:
			out.Parts = append(out.Parts, model.ToolUsePart{ID: v.ID, Name: v.Name, Input: v.Input})
		case anthropic.ThinkingBlock:
			out.Parts = append(out.Parts, model.ThinkingPart{Text: v.Thinking, Signature: v.Signature, Final: true})
		}
	}
	return &model.Response{
		Message: out,
		Stop:    string(msg.StopReason),
		Usage: model.TokenUsage{
			InputTokens:              int(msg.Usage.InputTokens),
			OutputTokens:             int(msg.Usage.OutputTokens),
			CacheCreationInputTokens: int(msg.Usage.CacheCreationInputTokens),
			CacheReadInputTokens:     int(msg.Usage.CacheReadInputTokens),
		},
	}
}

func eventToChunk(event anthropic.MessageStreamEventUnion) model.Chunk {
	switch v := event.AsAny().(type) {
	case anthropic.ContentBlockDeltaEvent:
		switch d := v.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return model.Chunk{Type: model.ChunkTypeTextDelta, Text: d.Text}
		case anthropic.ThinkingDelta:
			return model.Chunk{Type: model.ChunkTypeThinkingDelta, Text: d.Thinking}
		}
	case anthropic.MessageStopEvent:
		return model.Chunk{Type: model.ChunkTypeMessageStop}
	}
	return model.Chunk{}
}

func resultToString(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	return ""
}
