package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot/kernel/store/memstore"
	"github.com/spacebot/kernel/telemetry"
	"github.com/spacebot/kernel/worker"
)

func channelScan(ids ...string) func(context.Context) ([]string, error) {
	return func(context.Context) ([]string, error) { return ids, nil }
}

// TestMaintenance_MergeDuplicatesGatesOnEmbeddingSimilarityNotContent
// checks that two records with near-identical embeddings but different
// content get merged — which a plain string-equality gate would not do.
func TestMaintenance_MergeDuplicatesGatesOnEmbeddingSimilarityNotContent(t *testing.T) {
	backing := memstore.New()
	p := New(backing, backing, backing, constantEmbedder{vector: []float32{1, 0}}, telemetry.Noop())
	ctx := context.Background()

	older, err := p.Save(ctx, SaveInput{Content: "the launch is Tuesday", Kind: KindFact, Importance: 0.5, SourceChannelID: "c1"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	newer, err := p.Save(ctx, SaveInput{Content: "launch day is Tuesday", Kind: KindFact, Importance: 0.5, SourceChannelID: "c1"})
	require.NoError(t, err)

	err = p.RunMaintenance(ctx, MaintenanceConfig{MergeSimilarity: 0.95, ChannelsToScan: channelScan("c1")})
	require.NoError(t, err)

	oldRec, err := backing.GetRecord(ctx, older.ID)
	require.NoError(t, err)
	newRec, err := backing.GetRecord(ctx, newer.ID)
	require.NoError(t, err)

	assert.False(t, oldRec.Forgotten, "the earliest-created record of a merged pair must survive")
	assert.True(t, newRec.Forgotten, "a near-duplicate by embedding similarity must be folded into the earlier record even though its text differs")
}

func TestMaintenance_MergeDuplicatesLeavesDissimilarEmbeddingsAlone(t *testing.T) {
	backing := memstore.New()
	vectors := map[string][]float32{
		"a": {1, 0},
		"b": {0, 1},
	}
	p := New(backing, backing, backing, switchEmbedder{byContent: vectors}, telemetry.Noop())
	ctx := context.Background()

	m1, err := p.Save(ctx, SaveInput{Content: "a", Kind: KindFact, Importance: 0.5, SourceChannelID: "c1"})
	require.NoError(t, err)
	m2, err := p.Save(ctx, SaveInput{Content: "b", Kind: KindFact, Importance: 0.5, SourceChannelID: "c1"})
	require.NoError(t, err)

	err = p.RunMaintenance(ctx, MaintenanceConfig{MergeSimilarity: 0.95, ChannelsToScan: channelScan("c1")})
	require.NoError(t, err)

	r1, err := backing.GetRecord(ctx, m1.ID)
	require.NoError(t, err)
	r2, err := backing.GetRecord(ctx, m2.ID)
	require.NoError(t, err)
	assert.False(t, r1.Forgotten)
	assert.False(t, r2.Forgotten, "orthogonal embeddings must never be merged regardless of content")
}

// switchEmbedder returns a fixed vector keyed by the exact text embedded,
// letting a test control similarity independently of stored content.
type switchEmbedder struct{ byContent map[string][]float32 }

func (s switchEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := s.byContent[text]; ok {
		return v, nil
	}
	return []float32{0, 0}, nil
}

func TestMaintenance_ApplyDecayNeverTouchesIdentity(t *testing.T) {
	backing := memstore.New()
	p := New(backing, backing, backing, constantEmbedder{vector: []float32{1, 0}}, telemetry.Noop())
	ctx := context.Background()

	rec, err := p.Save(ctx, SaveInput{Content: "I am the assistant", Kind: KindIdentity, Importance: 1.0, SourceChannelID: "c1"})
	require.NoError(t, err)

	stored, err := backing.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	stored.LastAccessedAt = time.Now().Add(-365 * 24 * time.Hour)
	require.NoError(t, backing.SaveRecord(ctx, stored))

	err = p.RunMaintenance(ctx, MaintenanceConfig{ChannelsToScan: channelScan("c1")})
	require.NoError(t, err)

	after, err := backing.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, after.Importance, "Identity memories must never decay")
	assert.False(t, after.Forgotten)
}

func TestMaintenance_DecayBelowImportanceFloorMarksForgotten(t *testing.T) {
	backing := memstore.New()
	p := New(backing, backing, backing, constantEmbedder{vector: []float32{1, 0}}, telemetry.Noop())
	ctx := context.Background()

	rec, err := p.Save(ctx, SaveInput{Content: "a minor detail", Kind: KindObservation, Importance: 0.1, SourceChannelID: "c1"})
	require.NoError(t, err)

	stored, err := backing.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	stored.LastAccessedAt = time.Now().Add(-365 * 24 * time.Hour)
	require.NoError(t, backing.SaveRecord(ctx, stored))

	err = p.RunMaintenance(ctx, MaintenanceConfig{
		DecayHalfLife:   24 * time.Hour,
		ImportanceFloor: 0.05,
		ChannelsToScan:  channelScan("c1"),
	})
	require.NoError(t, err)

	after, err := backing.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, after.Forgotten, "importance decayed below the floor must soft-prune the record")
}

func TestMaintenanceBackend_RunReportsDoneOnSuccess(t *testing.T) {
	backing := memstore.New()
	p := New(backing, backing, backing, constantEmbedder{vector: []float32{1, 0}}, telemetry.Noop())
	backend := NewMaintenanceBackend(p, MaintenanceConfig{ChannelsToScan: channelScan()})

	rep := &recordingReporter{}
	backend.Run(context.Background(), "sweep", rep)

	assert.True(t, rep.done)
	assert.False(t, rep.failed)
}

func TestMaintenanceBackend_RunReportsFailedOnScanError(t *testing.T) {
	backing := memstore.New()
	p := New(backing, backing, backing, constantEmbedder{vector: []float32{1, 0}}, telemetry.Noop())
	failingScan := func(context.Context) ([]string, error) { return nil, errors.New("scan failed") }
	backend := NewMaintenanceBackend(p, MaintenanceConfig{ChannelsToScan: failingScan})

	rep := &recordingReporter{}
	backend.Run(context.Background(), "sweep", rep)

	assert.True(t, rep.failed)
	assert.False(t, rep.done)
}

func TestMaintenanceBackend_FollowUpIsRejected(t *testing.T) {
	backend := NewMaintenanceBackend(nil, MaintenanceConfig{})
	err := backend.FollowUp(context.Background(), "anything")
	assert.Error(t, err)
}

// recordingReporter is a minimal worker.Reporter double recording only
// whether Done or Failed was eventually called.
type recordingReporter struct {
	done   bool
	failed bool
}

var _ worker.Reporter = (*recordingReporter)(nil)

func (r *recordingReporter) SetStatus(context.Context, string)    {}
func (r *recordingReporter) ToolStarted(context.Context, string)  {}
func (r *recordingReporter) ToolCompleted(context.Context, string) {}
func (r *recordingReporter) WaitForInput(context.Context)         {}
func (r *recordingReporter) Done(context.Context, string)         { r.done = true }
func (r *recordingReporter) Failed(context.Context, error)        { r.failed = true }
