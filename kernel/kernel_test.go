package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot/kernel/cortex"
	"github.com/spacebot/kernel/memory"
	"github.com/spacebot/kernel/model"
	"github.com/spacebot/kernel/status"
	"github.com/spacebot/kernel/store/memstore"
	"github.com/spacebot/kernel/telemetry"
	"github.com/spacebot/kernel/transcript"
)

type noopClient struct{}

func (noopClient) Complete(context.Context, model.Request) (*model.Response, error) {
	return &model.Response{Message: &model.Message{Role: model.ConversationRoleAssistant}}, nil
}

func (noopClient) Stream(context.Context, model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

type noopGenerator struct{}

func (noopGenerator) Generate(context.Context, []memory.Memory) (string, error) { return "", nil }

type noopPrompt struct{}

func (noopPrompt) Assemble(context.Context, []string, cortex.Bulletin, []transcript.Turn, []status.Block, string) string {
	return ""
}

type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }

// TestKernel_RunMaintenanceSweepDefaultsToScanningLiveChannels checks that a
// MaintenanceConfig with no ChannelsToScan configured still sweeps every
// channel the kernel currently knows about, rather than erroring or
// scanning nothing.
func TestKernel_RunMaintenanceSweepDefaultsToScanningLiveChannels(t *testing.T) {
	backing := memstore.New()
	pipeline := memory.New(backing, backing, backing, constEmbedder{}, telemetry.Noop())

	k := New(noopClient{}, pipeline, noopGenerator{}, noopPrompt{}, telemetry.Noop(),
		WithCortexInterval(time.Hour), WithMaintenanceInterval(0))
	defer k.Shutdown(context.Background())

	k.channelFor("chan-1")

	rec, err := pipeline.Save(context.Background(), memory.SaveInput{
		Content: "a minor detail", Kind: memory.KindObservation, Importance: 0.1, SourceChannelID: "chan-1",
	})
	require.NoError(t, err)

	stored, err := backing.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	stored.LastAccessedAt = time.Now().Add(-365 * 24 * time.Hour)
	require.NoError(t, backing.SaveRecord(context.Background(), stored))

	k.runMaintenanceSweep(context.Background(), memory.MaintenanceConfig{
		DecayHalfLife:   24 * time.Hour,
		ImportanceFloor: 0.05,
	})

	after, err := backing.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, after.Forgotten, "the maintenance sweep must have scanned chan-1 without an explicit ChannelsToScan override")
}

// TestKernel_RunMaintenanceSweepDeregistersItsWorker checks the maintenance
// sweep does not leave its Worker process registered once it completes.
func TestKernel_RunMaintenanceSweepDeregistersItsWorker(t *testing.T) {
	backing := memstore.New()
	pipeline := memory.New(backing, backing, backing, constEmbedder{}, telemetry.Noop())

	k := New(noopClient{}, pipeline, noopGenerator{}, noopPrompt{}, telemetry.Noop(),
		WithCortexInterval(time.Hour), WithMaintenanceInterval(0))
	defer k.Shutdown(context.Background())

	before := len(k.Registry().Snapshot())
	k.runMaintenanceSweep(context.Background(), memory.MaintenanceConfig{ChannelsToScan: func(context.Context) ([]string, error) { return nil, nil }})
	after := len(k.Registry().Snapshot())

	assert.Equal(t, before, after, "the maintenance worker must deregister itself once its sweep completes")
}
