package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/spacebot/kernel/branch"
	"github.com/spacebot/kernel/cortex"
	"github.com/spacebot/kernel/memory"
	"github.com/spacebot/kernel/model"
	"github.com/spacebot/kernel/process"
	"github.com/spacebot/kernel/status"
	"github.com/spacebot/kernel/transcript"
	"github.com/spacebot/kernel/worker"
)

// branchTools is the Branch-surface tool set a Branch can invoke: recall
// from and save to the Memory Pipeline, narrower than the full channel
// tool surface since a Branch's job is to curate a conclusion, not drive
// the conversation.
var branchTools = []model.ToolDefinition{
	{
		Name:        "memory_recall",
		Description: "Recall relevant Memories by free-text query and/or kind.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":  map[string]any{"type": "string"},
				"kind":  map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer"},
			},
		},
	},
	{
		Name:        "memory_save",
		Description: "Persist a new Memory extracted from this branch's work.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content":    map[string]any{"type": "string"},
				"kind":       map[string]any{"type": "string"},
				"importance": map[string]any{"type": "number"},
			},
			"required": []string{"content", "kind"},
		},
	},
}

// channelTools is the fixed channel tool surface a turn's LLM steps can
// invoke: reply is implicit (final text with no further tool calls);
// everything else is an explicit tool.
var channelTools = []model.ToolDefinition{
	{Name: "spawn_branch", Description: "Fork a bounded thought process off the critical path."},
	{Name: "spawn_worker", Description: "Start a long-running task against a pluggable backend."},
	{Name: "follow_up_worker", Description: "Route additional input to a worker waiting for input."},
	{Name: "cancel_worker", Description: "Cooperatively cancel a running worker."},
	{Name: "cancel_branch", Description: "Cooperatively cancel a running branch."},
	{Name: "react", Description: "Acknowledge without producing a full reply."},
	{Name: "skip", Description: "Take no action this turn."},
}

// runTurn executes exactly one Channel turn: it drains the incoming
// buffer into a single combined input, assembles the system prompt, runs
// up to cfg.MaxSteps bounded LLM steps over the channel tool surface, and
// — on completion — checks whether more inbound messages were coalesced
// while this turn ran and, if so, starts another turn for them. A
// branch/worker result that arrives mid-turn is already in history for the
// next turn but does not by itself start one here. The Channel never starts
// two turns concurrently: turnInFlight is the single gate.
func (c *Channel) runTurn(parentCtx context.Context) {
	for {
		c.mu.Lock()
		batch := c.incoming
		c.incoming = nil
		c.mu.Unlock()

		turnCtx, cancel := context.WithCancelCause(parentCtx)
		c.mu.Lock()
		c.cancelCurrent = cancel
		c.mu.Unlock()

		c.executeTurn(turnCtx, batch)
		cancel(nil)
		go c.checkCompaction(parentCtx)

		c.mu.Lock()
		if len(c.incoming) == 0 {
			c.turnInFlight = false
			c.cancelCurrent = nil
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}
}

func (c *Channel) executeTurn(ctx context.Context, batch []InboundMessage) {
	input := combineInbound(batch)
	if input != "" {
		c.history.Append(transcript.Turn{Kind: transcript.TurnUser, Text: input, CreatedAt: time.Now().UTC()})
	}

	blocks := status.Project(c.reg, c.recorder, c.procID, status.DefaultProjectConfig())
	system := ""
	if c.prompt != nil {
		bulletin := cortex.Bulletin{}
		if c.cortex != nil {
			bulletin = c.cortex.Current()
		}
		system = c.prompt.Assemble(ctx, c.identity, bulletin, c.recentSummaries(), blocks, "")
	}

	messages := c.seedMessages()

	for step := 0; step < c.cfg.MaxSteps; step++ {
		if ctx.Err() != nil {
			c.history.Append(transcript.Turn{Kind: transcript.TurnSystemNote, Text: "turn cancelled", CreatedAt: time.Now().UTC()})
			return
		}

		resp, err := c.retryComplete(ctx, model.Request{Messages: messages, System: system, Tools: channelTools})
		if err != nil {
			c.history.Append(transcript.Turn{Kind: transcript.TurnSystemNote, Text: fmt.Sprintf("turn ended: %v", err), CreatedAt: time.Now().UTC()})
			return
		}
		messages = append(messages, resp.Message)

		calls := toolUses(resp.Message)
		if len(calls) == 0 {
			reply := textOf(resp.Message)
			if reply != "" {
				c.history.Append(transcript.Turn{Kind: transcript.TurnAssistant, Text: reply, CreatedAt: time.Now().UTC()})
			}
			return
		}

		results := make([]model.Part, 0, len(calls))
		for _, call := range calls {
			out, isErr := c.dispatch(ctx, call)
			results = append(results, model.ToolResultPart{ToolUseID: call.ID, Content: out, IsError: isErr})
		}
		messages = append(messages, &model.Message{Role: model.ConversationRoleUser, Parts: results})
	}
}

// retryComplete retries a failed model call a small bounded number of times
// with backoff; it does not tell transient errors from fatal ones, so every
// error is retried. Persistent failure ends the turn without a reply rather
// than propagating an exception into the tool loop.
func (c *Channel) retryComplete(ctx context.Context, req model.Request) (*model.Response, error) {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := c.client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Channel) dispatch(ctx context.Context, call model.ToolUsePart) (result string, isError bool) {
	switch call.Name {
	case "spawn_branch":
		task, _ := call.Input.(string)
		id, err := c.spawnBranch(ctx, task)
		if err != nil {
			return err.Error(), true
		}
		return fmt.Sprintf("spawned branch %s", id), false
	case "spawn_worker":
		task, _ := call.Input.(string)
		id, err := c.spawnWorker(ctx, task, true)
		if err != nil {
			return err.Error(), true
		}
		return fmt.Sprintf("spawned worker %s", id), false
	case "follow_up_worker":
		args, _ := call.Input.(map[string]any)
		id, _ := args["worker_id"].(string)
		msg, _ := args["message"].(string)
		c.mu.Lock()
		w, ok := c.workers[process.ID(id)]
		c.mu.Unlock()
		if !ok {
			return fmt.Sprintf("unknown worker %s", id), true
		}
		if err := w.FollowUp(ctx, msg); err != nil {
			return err.Error(), true
		}
		return "follow-up delivered", false
	case "cancel_worker":
		id, _ := call.Input.(string)
		c.mu.Lock()
		w, ok := c.workers[process.ID(id)]
		c.mu.Unlock()
		if !ok {
			return fmt.Sprintf("unknown worker %s", id), true
		}
		_ = w.Cancel(ctx)
		return "cancel requested", false
	case "cancel_branch":
		id, _ := call.Input.(string)
		c.mu.Lock()
		cancel, ok := c.branches[process.ID(id)]
		c.mu.Unlock()
		if !ok {
			return fmt.Sprintf("unknown branch %s", id), true
		}
		cancel(fmt.Errorf("channel: branch cancelled by agent"))
		return "cancel requested", false
	case "react", "skip":
		return "ok", false
	default:
		return fmt.Sprintf("unknown channel tool %q", call.Name), true
	}
}

// spawnBranch forks a bounded thought process. It registers the branch
// with the process Registry as a child of this Channel and runs it in a
// detached goroutine: the Channel turn does not await it, matching the
// non-blocking rule.
func (c *Channel) spawnBranch(ctx context.Context, task string) (process.ID, error) {
	c.mu.Lock()
	active := len(c.branches)
	c.mu.Unlock()
	if active >= c.cfg.MaxConcurrentBranches {
		return "", fmt.Errorf("channel: max concurrent branches (%d) reached", c.cfg.MaxConcurrentBranches)
	}

	id, bctx, cancel := c.reg.Register(ctx, process.KindBranch, c.procID, task)
	c.mu.Lock()
	c.branches[id] = cancel
	c.mu.Unlock()

	br := branch.New(id, c.client, "", branchTools, c.branchHandlers(), c.cfg.BranchConfig, c.bus)
	in := branch.Input{ParentID: c.procID, History: c.history.Recent(50), Task: task}
	go func() {
		br.Run(bctx, in)
		c.reg.Deregister(id)
	}()
	return id, nil
}

// branchHandlers returns the tool handlers backing branchTools. A recall
// is always performed from a Branch (or the Cortex, which goes straight
// through Pipeline.Recall); Channel itself never calls Save or Recall
// directly. If this Channel has no pipeline wired, both handlers report
// memory as unavailable rather than panicking on a nil pointer.
func (c *Channel) branchHandlers() map[string]branch.ToolHandler {
	return map[string]branch.ToolHandler{
		"memory_recall": c.handleMemoryRecall,
		"memory_save":   c.handleMemorySave,
	}
}

func (c *Channel) handleMemoryRecall(ctx context.Context, input any) (any, error) {
	if c.pipeline == nil {
		return nil, fmt.Errorf("channel: memory pipeline not configured")
	}
	args, _ := input.(map[string]any)
	text, _ := args["text"].(string)
	kindStr, _ := args["kind"].(string)
	limit := 10
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	hits, err := c.pipeline.Recall(ctx, memory.RecallQuery{
		Text:  text,
		Kind:  memory.Kind(kindStr),
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("channel: memory recall: %w", err)
	}

	out := make([]map[string]any, 0, len(hits))
	for _, m := range hits {
		out = append(out, map[string]any{
			"id":      m.ID,
			"content": m.Content,
			"kind":    string(m.Kind),
		})
	}
	return out, nil
}

func (c *Channel) handleMemorySave(ctx context.Context, input any) (any, error) {
	if c.pipeline == nil {
		return nil, fmt.Errorf("channel: memory pipeline not configured")
	}
	args, _ := input.(map[string]any)
	content, _ := args["content"].(string)
	kindStr, _ := args["kind"].(string)
	importance := 0.5
	if v, ok := args["importance"].(float64); ok {
		importance = v
	}
	if content == "" {
		return nil, fmt.Errorf("channel: memory_save requires content")
	}

	m, err := c.pipeline.Save(ctx, memory.SaveInput{
		Content:         content,
		Kind:            memory.Kind(kindStr),
		Importance:      importance,
		SourceChannelID: string(c.id),
	})
	if err != nil {
		return nil, fmt.Errorf("channel: memory save: %w", err)
	}
	return fmt.Sprintf("saved memory %s", m.ID), nil
}

// spawnWorker starts a long-running task against the default LLM
// backend. notify controls whether its terminal outcome appends a
// WorkerTerminalNotice turn or only updates the StatusBlock.
func (c *Channel) spawnWorker(ctx context.Context, task string, notify bool) (process.ID, error) {
	id, wctx, _ := c.reg.Register(ctx, process.KindWorker, c.procID, task)
	backend := worker.NewLLMBackend(c.client, "", nil, nil, 8)
	w := worker.New(id, string(c.id), backend, c.bus)

	c.mu.Lock()
	c.workers[id] = w
	c.workerNotify[id] = notify
	c.mu.Unlock()

	go func() {
		w.Start(wctx, task)
		c.reg.Deregister(id)
	}()
	return id, nil
}

func (c *Channel) seedMessages() []*model.Message {
	turns := c.history.Recent(50)
	msgs := make([]*model.Message, 0, len(turns))
	for _, t := range turns {
		role := model.ConversationRoleAssistant
		if t.Kind == transcript.TurnUser {
			role = model.ConversationRoleUser
		}
		msgs = append(msgs, &model.Message{Role: role, Parts: []model.Part{model.TextPart{Text: t.Text}}})
	}
	return msgs
}

func (c *Channel) recentSummaries() []transcript.Turn {
	var out []transcript.Turn
	for _, t := range c.history.Turns() {
		if t.Kind == transcript.TurnCompactionSummary {
			out = append(out, t)
		}
	}
	return out
}

func combineInbound(batch []InboundMessage) string {
	if len(batch) == 0 {
		return ""
	}
	if len(batch) == 1 {
		return batch[0].Text
	}
	senders := map[string]bool{}
	for _, m := range batch {
		senders[m.Sender] = true
	}
	delta := batch[len(batch)-1].ReceivedAt.Sub(batch[0].ReceivedAt)
	combined := fmt.Sprintf("[%d messages from %d sender(s) over %s]\n", len(batch), len(senders), delta)
	for _, m := range batch {
		combined += fmt.Sprintf("%s: %s\n", m.Sender, m.Text)
	}
	return combined
}

func toolUses(msg *model.Message) []model.ToolUsePart {
	if msg == nil {
		return nil
	}
	var out []model.ToolUsePart
	for _, p := range msg.Parts {
		if tu, ok := p.(model.ToolUsePart); ok {
			out = append(out, tu)
		}
	}
	return out
}

func textOf(msg *model.Message) string {
	if msg == nil {
		return ""
	}
	var out string
	for _, p := range msg.Parts {
		if tp, ok := p.(model.TextPart); ok {
			out += tp.Text
		}
	}
	return out
}
