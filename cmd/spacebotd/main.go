// Command spacebotd runs a single spacebot kernel instance wired against
// the in-memory store and an Anthropic-backed model client, the
// smallest configuration that exercises every process kind end to end.
// Adapted from cmd/demo/main.go's construction style: register
// collaborators, then expose a thin client surface.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spacebot/kernel/channel"
	"github.com/spacebot/kernel/cortex"
	"github.com/spacebot/kernel/kernel"
	"github.com/spacebot/kernel/memory"
	"github.com/spacebot/kernel/model"
	"github.com/spacebot/kernel/model/anthropic"
	"github.com/spacebot/kernel/status"
	"github.com/spacebot/kernel/store/memstore"
	"github.com/spacebot/kernel/telemetry"
	"github.com/spacebot/kernel/transcript"
)

// hashEmbedder is a deterministic, dependency-free stand-in for a real
// embedding provider. It lets the demo exercise the full Memory Pipeline
// (including RRF fusion against real cosine similarity) without an
// external embedding API call; production deployments wire memory.Embedder
// to a provider call instead.
type hashEmbedder struct{ dims int }

func (h hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	out := make([]float32, h.dims)
	block := []byte(strings.ToLower(text))
	for i := range out {
		sum := sha256.Sum256(append(block, byte(i), byte(i>>8)))
		v := binary.BigEndian.Uint32(sum[:4])
		out[i] = float32(v%2000)/1000 - 1
	}
	return out, nil
}

// textGenerator renders a Cortex bulletin from the most recent memories
// without an extra model round trip, suitable for a demo deployment.
type textGenerator struct{}

func (textGenerator) Generate(_ context.Context, recent []memory.Memory) (string, error) {
	if len(recent) == 0 {
		return "No notable recent activity.", nil
	}
	var sb strings.Builder
	sb.WriteString("Recent highlights:\n")
	for i, m := range recent {
		if i >= 5 {
			break
		}
		sb.WriteString("- ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// simplePrompt assembles a plain-text system prompt from the Channel's
// collaborators.
type simplePrompt struct{}

func (simplePrompt) Assemble(_ context.Context, identity []string, bulletin cortex.Bulletin, summaries []transcript.Turn, blocks []status.Block, perTurn string) string {
	var sb strings.Builder
	for _, line := range identity {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	if bulletin.Text != "" {
		sb.WriteString("\nBulletin:\n")
		sb.WriteString(bulletin.Text)
	}
	if len(summaries) > 0 {
		sb.WriteString("\nCompaction summaries:\n")
		for _, s := range summaries {
			sb.WriteString("- ")
			sb.WriteString(s.Text)
			sb.WriteString("\n")
		}
	}
	if len(blocks) > 0 {
		sb.WriteString("\nIn-flight work:\n")
		for _, b := range blocks {
			sb.WriteString(fmt.Sprintf("- %s (%s): %s\n", b.Label, b.Kind, b.Detail))
		}
	}
	if perTurn != "" {
		sb.WriteString("\n")
		sb.WriteString(perTurn)
	}
	return sb.String()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel := telemetry.Noop()

	client, err := anthropic.New(anthropic.Options{
		APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
		DefaultModel: envOr("SPACEBOT_MODEL", "claude-sonnet-4-5"),
		SmallModel:   envOr("SPACEBOT_SMALL_MODEL", "claude-haiku-4-5"),
		MaxTokens:    2048,
	})
	if err != nil {
		log.Fatalf("spacebotd: %v", err)
	}
	var mc model.Client = client

	records := memstore.New()
	pipeline := memory.New(records, records, records, hashEmbedder{dims: 256}, tel)

	k := kernel.New(mc, pipeline, textGenerator{}, simplePrompt{}, tel,
		kernel.WithIdentity([]string{"You are spacebot, a terse and helpful assistant."}),
		kernel.WithCortexInterval(2*time.Minute),
	)

	k.HandleInbound(ctx, channel.ID("demo"), channel.InboundMessage{
		Sender:         "operator",
		Text:           "Say hello and tell me what you can do.",
		IdempotencyKey: "boot-1",
	})

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := k.Shutdown(shutdownCtx); err != nil {
		log.Printf("spacebotd: shutdown: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
