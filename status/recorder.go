package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spacebot/kernel/hooks"
	"github.com/spacebot/kernel/process"
)

// TerminalInfo is the last known shape of a process that has already
// left the Registry, kept around for a retention window so the status
// projection can still mention "just finished" work on the turn right
// after it completes.
type TerminalInfo struct {
	ProcessID     process.ID
	Kind          process.Kind
	ParentID      process.ID
	Label         string
	StartedAt     time.Time
	EndedAt       time.Time
	Detail        string
	ToolCallCount int
}

// ActivityRecorder subscribes to the process event bus and remembers the
// most recent human-readable detail, current tool, and tool-call count
// per process, plus a retention-windowed record of recently-terminal
// processes, satisfying Recorder.
type ActivityRecorder struct {
	mu        sync.RWMutex
	details   map[process.ID]string
	toolName  map[process.ID]string
	toolCount map[process.ID]int
	terminal  map[process.ID]TerminalInfo
}

// NewActivityRecorder registers itself on bus and returns the recorder.
func NewActivityRecorder(bus hooks.Bus) *ActivityRecorder {
	r := &ActivityRecorder{
		details:   make(map[process.ID]string),
		toolName:  make(map[process.ID]string),
		toolCount: make(map[process.ID]int),
		terminal:  make(map[process.ID]TerminalInfo),
	}
	bus.Register(hooks.SubscriberFunc(func(_ context.Context, evt hooks.Event) error {
		r.record(evt)
		return nil
	}))
	return r
}

func (r *ActivityRecorder) record(evt hooks.Event) {
	if evt.ProcessID == "" {
		return
	}
	id := process.ID(evt.ProcessID)

	switch evt.Kind {
	case hooks.KindToolStarted:
		r.mu.Lock()
		r.toolName[id] = evt.ToolName
		r.toolCount[id]++
		r.mu.Unlock()
	case hooks.KindToolCompleted:
		r.mu.Lock()
		if r.toolName[id] == evt.ToolName {
			delete(r.toolName, id)
		}
		r.mu.Unlock()
	case hooks.KindProcessEnded:
		r.recordTerminal(id, evt)
	}

	if detail := summarize(evt); detail != "" {
		r.mu.Lock()
		r.details[id] = detail
		r.mu.Unlock()
	}
}

func (r *ActivityRecorder) recordTerminal(id process.ID, evt hooks.Event) {
	startedAt, _ := evt.Data["started_at"].(time.Time)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminal[id] = TerminalInfo{
		ProcessID:     id,
		Kind:          process.Kind(evt.Status),
		ParentID:      process.ID(evt.ParentID),
		Label:         evt.Text,
		StartedAt:     startedAt,
		EndedAt:       time.Now().UTC(),
		Detail:        r.details[id],
		ToolCallCount: r.toolCount[id],
	}
}

// Detail returns the most recent activity summary recorded for id.
func (r *ActivityRecorder) Detail(id process.ID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.details[id]
}

// CurrentTool reports the name of the tool call most recently started
// for id without a matching completion, if any is in flight.
func (r *ActivityRecorder) CurrentTool(id process.ID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.toolName[id]
	return name, ok
}

// ToolCallCount reports how many tool calls id has started so far.
func (r *ActivityRecorder) ToolCallCount(id process.ID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.toolCount[id]
}

// RecentTerminal returns every recorded TerminalInfo whose EndedAt falls
// within window of now, pruning older entries as a side effect so the
// map does not grow without bound.
func (r *ActivityRecorder) RecentTerminal(window time.Duration) []TerminalInfo {
	if window <= 0 {
		return nil
	}
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TerminalInfo, 0, len(r.terminal))
	for id, info := range r.terminal {
		if now.Sub(info.EndedAt) > window {
			delete(r.terminal, id)
			continue
		}
		out = append(out, info)
	}
	return out
}

func summarize(evt hooks.Event) string {
	switch evt.Kind {
	case hooks.KindToolStarted:
		return fmt.Sprintf("running %s", evt.ToolName)
	case hooks.KindToolCompleted:
		return fmt.Sprintf("finished %s", evt.ToolName)
	case hooks.KindStatusUpdate:
		return evt.Status
	case hooks.KindTextDelta:
		return "composing reply"
	case hooks.KindBranchResult:
		return "branch result received"
	case hooks.KindWorkerTerminal:
		return fmt.Sprintf("worker %s", evt.Status)
	case hooks.KindTurnCompleted:
		return "turn completed"
	default:
		return ""
	}
}
