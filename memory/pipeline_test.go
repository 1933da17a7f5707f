package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot/kernel/store/memstore"
	"github.com/spacebot/kernel/telemetry"
)

type constantEmbedder struct{ vector []float32 }

func (c constantEmbedder) Embed(context.Context, string) ([]float32, error) { return c.vector, nil }

// TestPipeline_UpdateLaw checks testable property #8: saving a memory
// whose content similarity to an existing memory M is >= 0.9 creates an
// Updates edge, never deletes M, and reduces M's effective surfacing
// weight (importance).
func TestPipeline_UpdateLaw(t *testing.T) {
	backing := memstore.New()
	p := New(backing, backing, backing, constantEmbedder{vector: []float32{1, 0}}, telemetry.Noop())
	ctx := context.Background()

	m1, err := p.Save(ctx, SaveInput{Content: "the sky is blue", Kind: KindFact, Importance: 0.8})
	require.NoError(t, err)

	_, err = p.Save(ctx, SaveInput{Content: "the sky is blue", Kind: KindFact, Importance: 0.8})
	require.NoError(t, err)

	// M1 must still exist, not deleted.
	stored, err := backing.GetRecord(ctx, m1.ID)
	require.NoError(t, err)
	assert.False(t, stored.Forgotten)

	// Its importance (surfacing weight) must have been reduced by the
	// Updates-edge decay nudge.
	assert.Less(t, stored.Importance, 0.8)

	assocs, err := backing.Associations(ctx, m1.ID)
	require.NoError(t, err)
	require.NotEmpty(t, assocs)

	var found bool
	for _, a := range assocs {
		if a.Relation == string(RelationUpdates) {
			found = true
		}
	}
	assert.True(t, found, "expected an Updates association between near-identical high-similarity memories")
}

// TestPipeline_ContradictsOnDivergentHighSimilarity exercises the
// resolved open question: near-duplicate embeddings with materially
// different content record a Contradicts edge rather than silently
// overwriting.
func TestPipeline_ContradictsOnDivergentHighSimilarity(t *testing.T) {
	backing := memstore.New()
	p := New(backing, backing, backing, constantEmbedder{vector: []float32{1, 0}}, telemetry.Noop())
	ctx := context.Background()

	m1, err := p.Save(ctx, SaveInput{Content: "the meeting is at 3pm", Kind: KindFact, Importance: 0.5})
	require.NoError(t, err)

	_, err = p.Save(ctx, SaveInput{Content: "the meeting is at 5pm", Kind: KindFact, Importance: 0.5})
	require.NoError(t, err)

	assocs, err := backing.Associations(ctx, m1.ID)
	require.NoError(t, err)

	var found bool
	for _, a := range assocs {
		if a.Relation == string(RelationContradicts) {
			found = true
		}
	}
	assert.True(t, found)
}

// TestPipeline_ExplicitContradictsAlwaysRecorded checks SaveInput.Contradicts
// writes the edge unconditionally, independent of similarity.
func TestPipeline_ExplicitContradictsAlwaysRecorded(t *testing.T) {
	backing := memstore.New()
	p := New(backing, backing, backing, constantEmbedder{vector: []float32{1, 0}}, telemetry.Noop())
	ctx := context.Background()

	m1, err := p.Save(ctx, SaveInput{Content: "old fact", Kind: KindFact})
	require.NoError(t, err)

	m2, err := p.Save(ctx, SaveInput{Content: "corrected fact", Kind: KindFact, Contradicts: m1.ID})
	require.NoError(t, err)

	assocs, err := backing.Associations(ctx, m2.ID)
	require.NoError(t, err)

	var found bool
	for _, a := range assocs {
		if a.FromID == m2.ID && a.ToID == m1.ID && a.Relation == string(RelationContradicts) {
			found = true
		}
	}
	assert.True(t, found)
}
