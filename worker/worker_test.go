package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot/kernel/hooks"
	"github.com/spacebot/kernel/process"
)

// stubBackend lets tests drive a Worker's Reporter callbacks directly
// without running a real tool loop.
type stubBackend struct {
	run func(ctx context.Context, task string, rep Reporter)
}

func (s *stubBackend) Run(ctx context.Context, task string, rep Reporter) { s.run(ctx, task, rep) }
func (s *stubBackend) FollowUp(context.Context, string) error             { return nil }
func (s *stubBackend) Cancel(context.Context) error                       { return nil }

func newTestWorker(run func(ctx context.Context, task string, rep Reporter)) *Worker {
	bus := hooks.NewBus()
	return New(process.ID("w-1"), "chan-1", &stubBackend{run: run}, bus)
}

func TestWorker_DoneIsTerminalAndAbsorbing(t *testing.T) {
	w := newTestWorker(func(ctx context.Context, task string, rep Reporter) {
		rep.Done(ctx, "ok")
		// A second terminal call must be swallowed by termOnce, not panic
		// or flip state away from Done.
		rep.Failed(ctx, errors.New("too late"))
	})
	w.Start(context.Background(), "task")

	snap := w.Snapshot()
	assert.Equal(t, StateDone, snap.State)
	assert.Equal(t, "ok", snap.Result)
	assert.NoError(t, snap.Err)
}

func TestWorker_FailedIsTerminal(t *testing.T) {
	w := newTestWorker(func(ctx context.Context, task string, rep Reporter) {
		rep.Failed(ctx, errors.New("boom"))
	})
	w.Start(context.Background(), "task")

	snap := w.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Error(t, snap.Err)
}

func TestWorker_CancelledDistinguishedFromFailed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := newTestWorker(func(ctx context.Context, task string, rep Reporter) {
		rep.Failed(ctx, ctx.Err())
	})
	w.Start(ctx, "task")

	assert.Equal(t, StateCancelled, w.Snapshot().State)
}

func TestWorker_WaitingForInputThenFollowUp(t *testing.T) {
	w := newTestWorker(func(ctx context.Context, task string, rep Reporter) {
		rep.WaitForInput(ctx)
	})
	w.Start(context.Background(), "task")
	require.Equal(t, StateWaitingForInput, w.State())

	require.NoError(t, w.FollowUp(context.Background(), "more input"))
	assert.Equal(t, StateRunning, w.State())
}

func TestWorker_FollowUpRejectedWhenNotWaiting(t *testing.T) {
	w := newTestWorker(func(ctx context.Context, task string, rep Reporter) {
		rep.Done(ctx, "done")
	})
	w.Start(context.Background(), "task")

	err := w.FollowUp(context.Background(), "too late")
	assert.Error(t, err)
}

// TestWorker_TransitionTableNeverLeavesTerminal checks the
// allowedTransitions table itself: every terminal state reports
// Terminal() and has no outgoing transition.
func TestWorker_TransitionTableNeverLeavesTerminal(t *testing.T) {
	for _, terminal := range []State{StateDone, StateFailed, StateCancelled} {
		require.Truef(t, terminal.Terminal(), "%s must report Terminal() == true", terminal)
		require.Emptyf(t, allowedTransitions[terminal], "%s must have no outgoing transitions", terminal)
	}
}

func TestWorker_IsAllowedProperty(t *testing.T) {
	states := []State{StateRunning, StateWaitingForInput, StateDone, StateFailed, StateCancelled}

	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("terminal states reject every transition", prop.ForAll(
		func(i int) bool {
			from := states[2+i%3] // Done, Failed, Cancelled
			to := states[i%5]
			return !isAllowed(from, to)
		},
		gen.IntRange(0, 100),
	))

	properties.Property("Running may transition to any listed next state", prop.ForAll(
		func(i int) bool {
			to := states[i%5]
			return isAllowed(StateRunning, to)
		},
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
