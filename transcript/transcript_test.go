package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func turnsOfKind(n int, kind TurnKind) []Turn {
	out := make([]Turn, n)
	for i := range out {
		out[i] = Turn{Kind: kind, Text: "turn", CreatedAt: time.Now().UTC()}
	}
	return out
}

func TestLedger_DropOldestNonSummaryLeavesHeadSummariesIntact(t *testing.T) {
	l := NewLedger()
	l.Append(Turn{Kind: TurnCompactionSummary, Text: "s1"})
	l.Append(Turn{Kind: TurnCompactionSummary, Text: "s2"})
	for _, turn := range turnsOfKind(5, TurnUser) {
		l.Append(turn)
	}

	dropped := l.DropOldestNonSummary(3)

	assert.Equal(t, 3, dropped)
	require.Len(t, l.Turns(), 4)
	assert.Equal(t, "s1", l.Turns()[0].Text)
	assert.Equal(t, "s2", l.Turns()[1].Text)
	assert.Equal(t, TurnCompactionSummary, l.Turns()[0].Kind)
	assert.Equal(t, TurnCompactionSummary, l.Turns()[1].Kind)
}

func TestLedger_DropOldestNonSummaryClampsToAvailable(t *testing.T) {
	l := NewLedger()
	l.Append(Turn{Kind: TurnCompactionSummary, Text: "s1"})
	for _, turn := range turnsOfKind(2, TurnUser) {
		l.Append(turn)
	}

	dropped := l.DropOldestNonSummary(10)

	assert.Equal(t, 2, dropped, "must not drop more turns than exist past the head summaries")
	require.Len(t, l.Turns(), 1)
	assert.Equal(t, TurnCompactionSummary, l.Turns()[0].Kind)
}

func TestLedger_DropOldestNonSummaryNoOpWhenAllHeadIsSummaries(t *testing.T) {
	l := NewLedger()
	l.Append(Turn{Kind: TurnCompactionSummary, Text: "s1"})
	l.Append(Turn{Kind: TurnCompactionSummary, Text: "s2"})

	dropped := l.DropOldestNonSummary(5)

	assert.Equal(t, 0, dropped)
	assert.Len(t, l.Turns(), 2)
}

func TestLedger_InsertSummaryLandsAfterExistingHeadSummaries(t *testing.T) {
	l := NewLedger()
	l.Append(Turn{Kind: TurnCompactionSummary, Text: "s1"})
	l.Append(Turn{Kind: TurnUser, Text: "hi"})

	l.InsertSummary(Turn{Text: "s2"})

	require.Len(t, l.Turns(), 3)
	assert.Equal(t, "s1", l.Turns()[0].Text)
	assert.Equal(t, "s2", l.Turns()[1].Text)
	assert.Equal(t, TurnCompactionSummary, l.Turns()[1].Kind, "InsertSummary must force the Kind even if the caller forgot to set it")
	assert.Equal(t, "hi", l.Turns()[2].Text)
}

func TestLedger_ReplaceWithSummaryDropsThenInserts(t *testing.T) {
	l := NewLedger()
	l.Append(Turn{Kind: TurnCompactionSummary, Text: "s0"})
	for _, turn := range turnsOfKind(4, TurnUser) {
		l.Append(turn)
	}

	dropped := l.ReplaceWithSummary(2, Turn{Text: "new summary"})

	assert.Equal(t, 2, dropped)
	turns := l.Turns()
	require.Len(t, turns, 4) // s0, new summary, 2 remaining user turns
	assert.Equal(t, "s0", turns[0].Text)
	assert.Equal(t, "new summary", turns[1].Text)
	assert.Equal(t, TurnCompactionSummary, turns[1].Kind)
	assert.Equal(t, TurnUser, turns[2].Kind)
	assert.Equal(t, TurnUser, turns[3].Kind)
}

func TestLedger_EstimateSizeScalesWithContent(t *testing.T) {
	l := NewLedger()
	assert.Equal(t, 0, l.EstimateSize())

	l.Append(Turn{Text: "12345678"})
	assert.Equal(t, 2, l.EstimateSize())
}
