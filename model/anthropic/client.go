// Package anthropic implements model.Client against the Anthropic Claude
// Messages API via github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/spacebot/kernel/model"
)

// Options configures the Anthropic-backed client. Each ModelClass maps to
// a concrete Claude model name so Cortex/Compactor maintenance jobs can
// request the Small class while Channel/Branch/Worker use the default.
type Options struct {
	APIKey        string
	DefaultModel  string
	HighModel     string
	SmallModel    string
	MaxTokens     int
	ThinkingBudget int
}

// Client is a model.Client backed by Anthropic's Messages API.
type Client struct {
	sdk     anthropic.Client
	opts    Options
}

// New returns a Client. apiKey may be empty if ANTHROPIC_API_KEY is set in
// the environment, matching the SDK's own default resolution.
func New(opts Options) (*Client, error) {
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: DefaultModel is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	return &Client{sdk: anthropic.NewClient(clientOpts...), opts: opts}, nil
}

func (c *Client) modelFor(class model.ModelClass) string {
	switch class {
	case model.ModelClassHighReasoning:
		if c.opts.HighModel != "" {
			return c.opts.HighModel
		}
	case model.ModelClassSmall:
		if c.opts.SmallModel != "" {
			return c.opts.SmallModel
		}
	}
	return c.opts.DefaultModel
}

func (c *Client) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	params := toMessageParams(c.modelFor(req.Class), c.opts.MaxTokens, req)
	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: complete: %w", err)
	}
	return fromAnthropicMessage(msg), nil
}

func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params := toMessageParams(c.modelFor(req.Class), c.opts.MaxTokens, req)
	stream := c.sdk.Messages.NewStreaming(ctx, params)
	return &streamer{stream: stream}, nil
}

type streamer struct {
	stream *anthropicStream
	meta   map[string]any
}

// anthropicStream aliases the SDK's streaming response type so the rest of
// this file doesn't need to repeat the generic instantiation.
type anthropicStream = anthropicMessageStream

func (s *streamer) Recv() (model.Chunk, error) {
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			return model.Chunk{}, err
		}
		return model.Chunk{Type: model.ChunkTypeMessageStop}, nil
	}
	return eventToChunk(s.stream.Current()), nil
}

func (s *streamer) Close() error { return s.stream.Close() }

func (s *streamer) Metadata() map[string]any { return s.meta }
