// Package openai implements model.Client against the OpenAI Chat
// Completions API via github.com/openai/openai-go, routing
// model.ModelClassSmall requests to Options.SmallModel when one is set.
// Nothing else in this module constructs it; the demo daemon uses the
// Anthropic client.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/spacebot/kernel/model"
)

// Options configures the OpenAI-backed client.
type Options struct {
	APIKey       string
	DefaultModel string
	SmallModel   string
	MaxTokens    int
}

// Client is a model.Client backed by OpenAI's Chat Completions API.
type Client struct {
	sdk  openai.Client
	opts Options
}

func New(opts Options) (*Client, error) {
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: DefaultModel is required")
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	return &Client{sdk: openai.NewClient(clientOpts...), opts: opts}, nil
}

func (c *Client) modelFor(class model.ModelClass) string {
	if class == model.ModelClassSmall && c.opts.SmallModel != "" {
		return c.opts.SmallModel
	}
	return c.opts.DefaultModel
}

func (c *Client) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.modelFor(req.Class),
		Messages: toOpenAIMessages(req),
	}
	if c.opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.opts.MaxTokens))
	}
	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: complete: %w", err)
	}
	return fromOpenAICompletion(resp), nil
}

// Stream is unsupported for the OpenAI adapter: it always returns
// model.ErrStreamingUnsupported.
func (c *Client) Stream(context.Context, model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func toOpenAIMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m == nil {
			continue
		}
		text := flattenText(m)
		switch m.Role {
		case model.ConversationRoleAssistant:
			out = append(out, openai.AssistantMessage(text))
		default:
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}

func flattenText(m *model.Message) string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(model.TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

func fromOpenAICompletion(resp *openai.ChatCompletion) *model.Response {
	if resp == nil || len(resp.Choices) == 0 {
		return &model.Response{Message: &model.Message{Role: model.ConversationRoleAssistant}}
	}
	choice := resp.Choices[0]
	return &model.Response{
		Message: &model.Message{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: choice.Message.Content}},
		},
		Stop: string(choice.FinishReason),
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
}
