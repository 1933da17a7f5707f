package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot/kernel/cortex"
	"github.com/spacebot/kernel/hooks"
	"github.com/spacebot/kernel/model"
	"github.com/spacebot/kernel/process"
	"github.com/spacebot/kernel/status"
	"github.com/spacebot/kernel/telemetry"
	"github.com/spacebot/kernel/transcript"
	"github.com/spacebot/kernel/worker"
)

// stubClient replies with a fixed canned response, bypassing any real
// provider — exactly the kind of test double the teacher's handler tests
// use for the model layer.
type stubClient struct {
	mu    sync.Mutex
	calls int
	reply string
}

func (s *stubClient) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return &model.Response{Message: &model.Message{
		Role:  model.ConversationRoleAssistant,
		Parts: []model.Part{model.TextPart{Text: s.reply}},
	}}, nil
}

func (s *stubClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

type noopPrompt struct{}

func (noopPrompt) Assemble(context.Context, []string, cortex.Bulletin, []transcript.Turn, []status.Block, string) string {
	return "system prompt"
}

func newTestChannel(t *testing.T, client *stubClient) *Channel {
	t.Helper()
	bus := hooks.NewBus()
	reg := process.New(bus)
	c, _ := New(context.Background(), ID("chan-1"), reg, bus, nil, client, nil, noopPrompt{}, nil, nil, DefaultConfig(), telemetry.Noop())
	return c
}

func waitForIdle(t *testing.T, c *Channel) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		inFlight := c.turnInFlight
		c.mu.Unlock()
		if !inFlight {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for channel turn to finish")
}

func TestChannel_HandleInboundProducesReply(t *testing.T) {
	client := &stubClient{reply: "hello back"}
	c := newTestChannel(t, client)

	c.HandleInbound(context.Background(), InboundMessage{Sender: "alice", Text: "hi", IdempotencyKey: "k1"})
	waitForIdle(t, c)

	last, ok := c.History().Last()
	require.True(t, ok)
	assert.Equal(t, transcript.TurnAssistant, last.Kind)
	assert.Equal(t, "hello back", last.Text)
}

func TestChannel_NeverRunsTwoTurnsConcurrently(t *testing.T) {
	var inflight int32
	var maxObserved int32

	bus := hooks.NewBus()
	reg := process.New(bus)
	trackingClient := &trackingClient{
		complete: func() {
			n := atomic.AddInt32(&inflight, 1)
			for {
				cur := atomic.LoadInt32(&maxObserved)
				if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inflight, -1)
		},
		reply: "ok",
	}
	c, _ := New(context.Background(), ID("chan-2"), reg, bus, nil, trackingClient, nil, noopPrompt{}, nil, nil, DefaultConfig(), telemetry.Noop())

	for i := 0; i < 5; i++ {
		c.HandleInbound(context.Background(), InboundMessage{Sender: "alice", Text: "hi", IdempotencyKey: idKey(i)})
	}
	waitForIdle(t, c)

	assert.LessOrEqual(t, atomic.LoadInt32(&maxObserved), int32(1), "channel must never run two turns concurrently")
}

func TestChannel_DuplicateIdempotencyKeyDropped(t *testing.T) {
	client := &stubClient{reply: "ok"}
	c := newTestChannel(t, client)

	c.HandleInbound(context.Background(), InboundMessage{Sender: "alice", Text: "first", IdempotencyKey: "dup"})
	waitForIdle(t, c)
	firstLen := c.History().Len()

	c.HandleInbound(context.Background(), InboundMessage{Sender: "alice", Text: "first again", IdempotencyKey: "dup"})
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, firstLen, c.History().Len(), "duplicate idempotency key must not start a new turn")
}

func TestChannel_InjectBranchResultStartsTurnWhenIdle(t *testing.T) {
	client := &stubClient{reply: "acknowledged"}
	c := newTestChannel(t, client)

	c.mu.Lock()
	c.turnInFlight = false
	c.mu.Unlock()

	c.InjectBranchResult(context.Background(), "branch concluded something", nil)
	waitForIdle(t, c)

	turns := c.History().Turns()
	require.GreaterOrEqual(t, len(turns), 2)
	assert.Equal(t, transcript.TurnBranchResult, turns[0].Kind)
}

// TestChannel_BranchIncorporationOrder checks testable property #2: if
// branches B1, B2 conclude in that order, history ordering is
// "... c1 ... c2 ..." with exactly one BranchResult turn contributed per
// branch.
func TestChannel_BranchIncorporationOrder(t *testing.T) {
	client := &stubClient{reply: "ack"}
	c := newTestChannel(t, client)

	c.InjectBranchResult(context.Background(), "c1", nil)
	waitForIdle(t, c)

	c.InjectBranchResult(context.Background(), "c2", nil)
	waitForIdle(t, c)

	var branchTexts []string
	for _, turn := range c.History().Turns() {
		if turn.Kind == transcript.TurnBranchResult {
			branchTexts = append(branchTexts, turn.Text)
		}
	}
	require.Equal(t, []string{"c1", "c2"}, branchTexts, "branch conclusions must appear in the order their branches concluded, exactly once each")
}

// TestChannel_WorkerTerminalNoticeIsIdempotent checks testable property
// #10 at the Channel boundary: a worker's terminal outcome is only ever
// incorporated into history once, even if the terminal event is somehow
// observed twice.
func TestChannel_WorkerTerminalNoticeIsIdempotent(t *testing.T) {
	client := &stubClient{reply: "ack"}
	c := newTestChannel(t, client)

	workerID := process.ID("worker-1")
	c.mu.Lock()
	c.workerNotify[workerID] = true
	c.mu.Unlock()

	snap := worker.Snapshot{State: worker.StateDone, Result: "done"}

	c.HandleWorkerTerminal(context.Background(), workerID, snap)
	waitForIdle(t, c)
	firstLen := c.History().Len()

	// A second delivery of the same terminal event (e.g. a duplicate bus
	// dispatch) must not append a second notice: the worker was already
	// removed from the notify set on first delivery.
	c.HandleWorkerTerminal(context.Background(), workerID, snap)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, firstLen, c.History().Len(), "a worker's terminal notice must be incorporated at most once")
}

type trackingClient struct {
	complete func()
	reply    string
}

func (t *trackingClient) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	t.complete()
	return &model.Response{Message: &model.Message{
		Role:  model.ConversationRoleAssistant,
		Parts: []model.Part{model.TextPart{Text: t.reply}},
	}}, nil
}

func (t *trackingClient) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func idKey(i int) string {
	return string(rune('a' + i))
}
