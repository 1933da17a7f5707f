// Package status implements the Status Projection: a pure, computed view
// over the Process Registry and recent Event Bus activity. It is never
// persisted — every call recomputes from current state, the same
// read-only snapshot style runtime/registry/cache.go uses for its cache
// reads.
package status

import (
	"sort"
	"time"

	"github.com/spacebot/kernel/process"
)

// Block is one rendered line of the status projection: a live (or
// recently-terminal) process and a human-readable summary of what it is
// doing.
type Block struct {
	ProcessID     process.ID
	Kind          process.Kind
	Label         string
	Age           time.Duration
	Detail        string
	CurrentTool   string
	ToolCallCount int
	Terminal      bool
}

// Recorder is the read side of recent Event Bus activity the projection
// needs. Channel/Worker/Branch update it as they emit hooks.Events;
// Project only reads it.
type Recorder interface {
	Detail(id process.ID) string
	CurrentTool(id process.ID) (name string, ok bool)
	ToolCallCount(id process.ID) int
	RecentTerminal(window time.Duration) []TerminalInfo
}

// ProjectConfig tunes the projection's visibility filtering.
type ProjectConfig struct {
	// BranchVisibilityThreshold omits Branches younger than this, so a
	// trivially fast fork never flickers into the projection.
	BranchVisibilityThreshold time.Duration
	// TerminalRetention keeps a deregistered process's final Block
	// visible for this long after it completes.
	TerminalRetention time.Duration
}

// DefaultProjectConfig matches the suggested defaults: a 3s Branch
// visibility threshold and a few minutes of terminal retention.
func DefaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		BranchVisibilityThreshold: 3 * time.Second,
		TerminalRetention:         5 * time.Minute,
	}
}

// Project computes the current status projection scoped to root: every
// live process whose parent is root, directly or transitively via a
// Branch or Worker, plus any recently-terminal descendant still inside
// cfg.TerminalRetention. Branches younger than
// cfg.BranchVisibilityThreshold are omitted. Blocks are returned
// most-recently-started first.
func Project(reg *process.Registry, recorder Recorder, root process.ID, cfg ProjectConfig) []Block {
	if cfg.BranchVisibilityThreshold <= 0 && cfg.TerminalRetention <= 0 {
		cfg = DefaultProjectConfig()
	}
	now := time.Now()

	descendants := descendantsOf(reg, root)
	known := make(map[process.ID]bool, len(descendants)+1)
	known[root] = true

	blocks := make([]Block, 0, len(descendants))
	for _, info := range descendants {
		known[info.ID] = true
		age := now.Sub(info.StartedAt)
		if info.Kind == process.KindBranch && age < cfg.BranchVisibilityThreshold {
			continue
		}
		blocks = append(blocks, liveBlock(info, recorder, now))
	}

	if recorder != nil {
		for _, term := range recorder.RecentTerminal(cfg.TerminalRetention) {
			if !known[term.ParentID] {
				continue
			}
			blocks = append(blocks, terminalBlock(term, now))
		}
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Age < blocks[j].Age })
	return blocks
}

// descendantsOf walks the Registry's parent/child edges breadth-first
// from root, so a Worker spawned by a Branch spawned by this Channel is
// included just as directly as a Worker the Channel spawned itself.
func descendantsOf(reg *process.Registry, root process.ID) []process.Info {
	var out []process.Info
	queue := []process.ID{root}
	seen := map[process.ID]bool{root: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range reg.Children(id) {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}
	return out
}

func liveBlock(info process.Info, recorder Recorder, now time.Time) Block {
	b := Block{
		ProcessID: info.ID,
		Kind:      info.Kind,
		Label:     info.Label,
		Age:       now.Sub(info.StartedAt),
	}
	if recorder != nil {
		b.Detail = recorder.Detail(info.ID)
		b.ToolCallCount = recorder.ToolCallCount(info.ID)
		if name, ok := recorder.CurrentTool(info.ID); ok {
			b.CurrentTool = name
		}
	}
	return b
}

func terminalBlock(term TerminalInfo, now time.Time) Block {
	return Block{
		ProcessID:     term.ProcessID,
		Kind:          term.Kind,
		Label:         term.Label,
		Age:           now.Sub(term.StartedAt),
		Detail:        term.Detail,
		ToolCallCount: term.ToolCallCount,
		Terminal:      true,
	}
}
