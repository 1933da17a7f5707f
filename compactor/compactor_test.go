package compactor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot/kernel/transcript"
)

// TestCompactor_EmergencyBypassesCooldown verifies the emergency tier
// ignores the cooldown window entirely, since an emergency must act
// immediately regardless of how recently compaction last ran.
func TestCompactor_EmergencyBypassesCooldown(t *testing.T) {
	var runs int
	c := New(Thresholds{Soft: 50, Hard: 80, Emergency: 95}, time.Hour, func(ctx context.Context, tier Tier) (string, error) {
		runs++
		return "summary", nil
	})

	tier, err := c.Check(context.Background(), 96)
	require.NoError(t, err)
	assert.Equal(t, TierEmergency, tier)
	assert.Equal(t, 1, runs)

	// Immediately again: cooldown would normally block a soft/hard rerun,
	// but emergency must still fire every time it is observed.
	tier, err = c.Check(context.Background(), 96)
	require.NoError(t, err)
	assert.Equal(t, TierEmergency, tier)
	assert.Equal(t, 2, runs)
}

func TestCompactor_SoftRespectsCooldown(t *testing.T) {
	var runs int
	c := New(Thresholds{Soft: 50, Hard: 80, Emergency: 95}, time.Hour, func(ctx context.Context, tier Tier) (string, error) {
		runs++
		return "summary", nil
	})

	_, err := c.Check(context.Background(), 60)
	require.NoError(t, err)
	assert.Equal(t, 1, runs)

	_, err = c.Check(context.Background(), 60)
	require.NoError(t, err)
	assert.Equal(t, 1, runs, "second soft-tier check within the cooldown window must not re-run compaction")
}

func TestCompactor_TierClassification(t *testing.T) {
	c := New(Thresholds{Soft: 50, Hard: 80, Emergency: 95}, time.Second, nil)
	assert.Equal(t, TierNone, c.Tier(10))
	assert.Equal(t, TierSoft, c.Tier(50))
	assert.Equal(t, TierHard, c.Tier(80))
	assert.Equal(t, TierEmergency, c.Tier(95))
}

// TestCompactor_SwapProducesOneAdditionalSummary exercises the
// transcript.Ledger ReplaceWithSummary swap a CompactFunc would perform,
// checking the atomicity property: after the swap, history has exactly one
// additional CompactionSummary turn, strictly fewer original turns, and a
// smaller size estimate.
func TestCompactor_SwapProducesOneAdditionalSummary(t *testing.T) {
	ledger := transcript.NewLedger()
	for i := 0; i < 4; i++ {
		ledger.Append(transcript.Turn{Kind: transcript.TurnUser, Text: "an earlier user turn"})
	}
	originalsBefore := ledger.Len()
	sizeBefore := ledger.EstimateSize()

	c := New(Thresholds{Soft: 1}, 0, func(ctx context.Context, tier Tier) (string, error) {
		ledger.ReplaceWithSummary(2, transcript.Turn{Text: "condensed"})
		return "condensed", nil
	})
	tier, err := c.Check(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, TierSoft, tier)

	summaries, originals := 0, 0
	for _, turn := range ledger.Turns() {
		if turn.Kind == transcript.TurnCompactionSummary {
			summaries++
		} else {
			originals++
		}
	}
	assert.Equal(t, 1, summaries)
	assert.Less(t, originals, originalsBefore)
	assert.Less(t, ledger.EstimateSize(), sizeBefore)
}
