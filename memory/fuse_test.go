package memory

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuse_WorkedExample(t *testing.T) {
	vectorRanked := []string{"a", "b", "c"}
	textRanked := []string{"b", "d", "a"}

	got := fuse(vectorRanked, textRanked)

	require.Equal(t, []string{"b", "a", "d", "c"}, got)
}

func TestFuse_ScoresMatchFormula(t *testing.T) {
	vectorRanked := []string{"a", "b", "c"}
	textRanked := []string{"b", "d", "a"}

	_, scores := fuseScored(vectorRanked, textRanked)

	assert.InDelta(t, 1.0/61+1.0/63, scores["a"], 1e-9)
	assert.InDelta(t, 1.0/62+1.0/61, scores["b"], 1e-9)
	assert.InDelta(t, 1.0/63, scores["c"], 1e-9)
	assert.InDelta(t, 1.0/62, scores["d"], 1e-9)
}

// TestFuse_MonotonicInRank is a property test: for a single-source input,
// moving an id to a better rank can never lower its fused score.
func TestFuse_MonotonicInRank(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("a ranked better never scores worse", prop.ForAll(
		func(rankA, rankB int) bool {
			if rankA == rankB {
				return true
			}
			better, worse := rankA, rankB
			if better > worse {
				better, worse = worse, better
			}
			rankedBetter := rankedListWithSingleton("x", better)
			rankedWorse := rankedListWithSingleton("x", worse)

			_, scoresBetter := fuseScored(rankedBetter)
			_, scoresWorse := fuseScored(rankedWorse)
			return scoresBetter["x"] >= scoresWorse["x"]
		},
		gen.IntRange(1, 50),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}

// rankedListWithSingleton builds a ranked list long enough to place "x" at
// the 1-indexed position rank, padding with distinct filler ids.
func rankedListWithSingleton(id string, rank int) []string {
	out := make([]string, rank)
	for i := 0; i < rank-1; i++ {
		out[i] = "filler-" + string(rune('a'+i%26))
	}
	out[rank-1] = id
	return out
}
