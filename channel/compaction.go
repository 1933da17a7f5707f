package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spacebot/kernel/compactor"
	"github.com/spacebot/kernel/memory"
	"github.com/spacebot/kernel/model"
	"github.com/spacebot/kernel/transcript"
)

// emergencyDropBatch is how many oldest non-summary turns an emergency
// truncation pass drops per iteration of its loop.
const emergencyDropBatch = 5

// checkCompaction runs the Compactor's tiered policy against the
// history's current estimated size. Called in its own goroutine after
// every turn so compaction never blocks the next inbound message.
func (c *Channel) checkCompaction(ctx context.Context) {
	if c.compactor == nil {
		return
	}
	size := c.history.EstimateSize()
	if _, err := c.compactor.Check(ctx, size); err != nil {
		c.tel.Logger.Warn(ctx, "channel: compaction failed", "err", err)
	}
}

// compact implements compactor.CompactFunc for this Channel. Soft and
// hard tiers summarize the oldest uncompacted turns with an LLM call and
// extract any Memories worth persisting from them; emergency tier
// truncates synchronously with no LLM call at all, matching the
// requirement that emergency relief never waits on a model round trip.
// Compaction runs directly here rather than through a spawned
// worker.Worker: the Compactor's own `running` flag already guarantees
// at most one compaction in flight per Channel, so a second state
// machine on top would add nothing.
func (c *Channel) compact(ctx context.Context, tier compactor.Tier) (string, error) {
	if c.history.Len() == 0 {
		return "", nil
	}

	if tier == compactor.TierEmergency {
		return c.compactEmergency(ctx)
	}
	return c.compactSummarize(ctx, tier)
}

// compactEmergency drops the oldest non-summary turns (leaving any
// CompactionSummaries already at the head intact) in a loop until the
// ledger's estimated size, plus room reserved for the placeholder summary,
// is back under the hard threshold, then folds that one placeholder
// summary in at the head. Looping rather than cutting a fixed fraction is
// what guarantees utilization actually lands at or below threshold_hard
// afterward, regardless of how far over emergency the ledger had grown.
func (c *Channel) compactEmergency(ctx context.Context) (string, error) {
	hard := c.compactor.Thresholds().Hard
	if hard <= 0 {
		hard = 1
	}

	placeholder := func(n int) string {
		return fmt.Sprintf("[emergency truncation: %d oldest turns dropped without summarization]", n)
	}
	// The placeholder can never report more turns than the ledger holds now,
	// so its text at that count bounds the size it adds once inserted.
	reserve := (len(placeholder(c.history.Len())) + 3) / 4

	dropped := 0
	for c.history.EstimateSize()+reserve > hard {
		n := c.history.DropOldestNonSummary(emergencyDropBatch)
		if n == 0 {
			break
		}
		dropped += n
	}
	if dropped == 0 {
		return "", nil
	}

	c.history.InsertSummary(transcript.Turn{
		Text:      placeholder(dropped),
		CreatedAt: time.Now().UTC(),
	})
	return "", nil
}

// compactSummarize handles the soft and hard tiers: it asks the model to
// both summarize the oldest uncompacted turns and extract any Memories
// worth keeping from them, persists the extracted Memories through the
// Pipeline, and folds the summary text into the ledger.
func (c *Channel) compactSummarize(ctx context.Context, tier compactor.Tier) (string, error) {
	turns := c.history.Turns()

	targetFraction := 0.3
	if tier == compactor.TierHard {
		targetFraction = 0.5
	}
	cut := int(float64(len(turns)) * targetFraction)
	if cut <= 0 {
		cut = 1
	}
	if cut > len(turns) {
		cut = len(turns)
	}

	var sb strings.Builder
	for _, t := range turns[:cut] {
		sb.WriteString(string(t.Kind))
		sb.WriteString(": ")
		sb.WriteString(t.Text)
		sb.WriteString("\n")
	}

	resp, err := c.client.Complete(ctx, model.Request{
		Class: model.ModelClassSmall,
		Messages: []*model.Message{{
			Role: model.ConversationRoleUser,
			Parts: []model.Part{model.TextPart{Text: "Summarize the following conversation turns concisely, preserving any " +
				"decisions or facts worth remembering. After the summary, on its own line write \"MEMORIES:\" followed by one " +
				"line per fact worth persisting, formatted as \"kind: content\" (kind is one of fact, preference, decision, " +
				"event, observation, goal). Omit the MEMORIES section entirely if nothing is worth persisting.\n\n" + sb.String()}},
		}},
	})
	if err != nil {
		return "", err
	}

	summary, extracted := splitSummaryAndMemories(textOf(resp.Message))
	c.saveExtractedMemories(ctx, extracted)
	c.history.ReplaceWithSummary(cut, transcript.Turn{Text: summary, CreatedAt: time.Now().UTC()})
	return summary, nil
}

// extractedMemory is one "kind: content" line parsed out of a
// compaction summary's MEMORIES section.
type extractedMemory struct {
	kind    memory.Kind
	content string
}

// splitSummaryAndMemories separates the free-text summary from a
// trailing "MEMORIES:" section, returning the summary with that section
// stripped and the parsed per-line extractions.
func splitSummaryAndMemories(text string) (string, []extractedMemory) {
	marker := "MEMORIES:"
	idx := strings.Index(text, marker)
	if idx < 0 {
		return strings.TrimSpace(text), nil
	}

	summary := strings.TrimSpace(text[:idx])
	var out []extractedMemory
	for _, line := range strings.Split(text[idx+len(marker):], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		kind, content, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		out = append(out, extractedMemory{kind: memory.Kind(strings.TrimSpace(kind)), content: content})
	}
	return summary, out
}

// saveExtractedMemories persists each extraction through the Pipeline.
// This, the compaction Worker's path, is one of the three permitted
// Memory.Save callers alongside Branch and Cortex; Channel itself never
// calls Save from anywhere else.
func (c *Channel) saveExtractedMemories(ctx context.Context, extracted []extractedMemory) {
	if c.pipeline == nil {
		return
	}
	for _, e := range extracted {
		_, err := c.pipeline.Save(ctx, memory.SaveInput{
			Content:         e.content,
			Kind:            e.kind,
			Importance:      0.5,
			SourceChannelID: string(c.id),
		})
		if err != nil {
			c.tel.Logger.Warn(ctx, "channel: failed to save extracted memory", "err", err)
		}
	}
}
