package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebot/kernel/hooks"
	"github.com/spacebot/kernel/process"
)

// fakeRecorder is a minimal Recorder double so these tests can control
// exactly what each process reports without routing real events through a
// bus.
type fakeRecorder struct {
	detail    map[process.ID]string
	tool      map[process.ID]string
	toolCount map[process.ID]int
	terminal  []TerminalInfo
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{detail: map[process.ID]string{}, tool: map[process.ID]string{}, toolCount: map[process.ID]int{}}
}

func (f *fakeRecorder) Detail(id process.ID) string { return f.detail[id] }

func (f *fakeRecorder) CurrentTool(id process.ID) (string, bool) {
	name, ok := f.tool[id]
	return name, ok
}

func (f *fakeRecorder) ToolCallCount(id process.ID) int { return f.toolCount[id] }

func (f *fakeRecorder) RecentTerminal(time.Duration) []TerminalInfo { return f.terminal }

func TestProject_ScopesToDescendantsOfRoot(t *testing.T) {
	reg := process.New(hooks.NewBus())
	root, _, _ := reg.Register(context.Background(), process.KindChannel, "", "root channel")
	other, _, _ := reg.Register(context.Background(), process.KindChannel, "", "unrelated channel")

	worker, _, _ := reg.Register(context.Background(), process.KindWorker, root, "a worker")
	_, _, _ = reg.Register(context.Background(), process.KindWorker, other, "an unrelated worker")

	blocks := Project(reg, newFakeRecorder(), root, ProjectConfig{BranchVisibilityThreshold: 0, TerminalRetention: 0})

	require.Len(t, blocks, 1)
	assert.Equal(t, worker, blocks[0].ProcessID)
}

func TestProject_ScopesTransitivelyThroughABranch(t *testing.T) {
	reg := process.New(hooks.NewBus())
	root, _, _ := reg.Register(context.Background(), process.KindChannel, "", "root channel")
	branchID, _, _ := reg.Register(context.Background(), process.KindBranch, root, "a branch")
	nested, _, _ := reg.Register(context.Background(), process.KindWorker, branchID, "worker spawned by the branch")

	// BranchVisibilityThreshold of 0 means "always visible"; pairing it with
	// a tiny positive TerminalRetention keeps Project from substituting its
	// own defaults (it only does that when both fields are <= 0).
	cfg := ProjectConfig{BranchVisibilityThreshold: 0, TerminalRetention: time.Nanosecond}
	blocks := Project(reg, newFakeRecorder(), root, cfg)

	var ids []process.ID
	for _, b := range blocks {
		ids = append(ids, b.ProcessID)
	}
	assert.Contains(t, ids, branchID)
	assert.Contains(t, ids, nested, "a worker spawned by a branch of root must still appear in root's projection")
}

func TestProject_OmitsBranchesYoungerThanVisibilityThreshold(t *testing.T) {
	reg := process.New(hooks.NewBus())
	root, _, _ := reg.Register(context.Background(), process.KindChannel, "", "root channel")
	_, _, _ = reg.Register(context.Background(), process.KindBranch, root, "fresh branch")

	blocks := Project(reg, newFakeRecorder(), root, ProjectConfig{BranchVisibilityThreshold: time.Hour, TerminalRetention: -1})

	assert.Empty(t, blocks, "a branch younger than the visibility threshold must not appear")
}

func TestProject_SurfacesBranchOnceItCrossesVisibilityThreshold(t *testing.T) {
	reg := process.New(hooks.NewBus())
	root, _, _ := reg.Register(context.Background(), process.KindChannel, "", "root channel")
	branchID, _, _ := reg.Register(context.Background(), process.KindBranch, root, "a branch")

	blocks := Project(reg, newFakeRecorder(), root, ProjectConfig{BranchVisibilityThreshold: 0, TerminalRetention: time.Nanosecond})

	require.Len(t, blocks, 1)
	assert.Equal(t, branchID, blocks[0].ProcessID)
}

func TestProject_SurfacesRecentlyTerminalDescendantWithinRetention(t *testing.T) {
	reg := process.New(hooks.NewBus())
	root, _, _ := reg.Register(context.Background(), process.KindChannel, "", "root channel")

	recorder := newFakeRecorder()
	recorder.terminal = []TerminalInfo{{
		ProcessID: process.ID("gone-worker"),
		Kind:      process.KindWorker,
		ParentID:  root,
		Label:     "finished task",
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
		Detail:    "done",
	}}

	blocks := Project(reg, recorder, root, DefaultProjectConfig())

	require.Len(t, blocks, 1)
	assert.Equal(t, process.ID("gone-worker"), blocks[0].ProcessID)
	assert.True(t, blocks[0].Terminal)
}

func TestProject_OmitsTerminalEntriesWhoseParentIsNotAKnownDescendant(t *testing.T) {
	reg := process.New(hooks.NewBus())
	root, _, _ := reg.Register(context.Background(), process.KindChannel, "", "root channel")

	recorder := newFakeRecorder()
	recorder.terminal = []TerminalInfo{{
		ProcessID: process.ID("stray-worker"),
		Kind:      process.KindWorker,
		ParentID:  process.ID("some-other-channel"),
		Label:     "unrelated",
		StartedAt: time.Now(),
		EndedAt:   time.Now(),
	}}

	blocks := Project(reg, recorder, root, DefaultProjectConfig())

	assert.Empty(t, blocks)
}

func TestProject_LiveBlockCarriesCurrentToolAndCallCount(t *testing.T) {
	reg := process.New(hooks.NewBus())
	root, _, _ := reg.Register(context.Background(), process.KindChannel, "", "root channel")
	workerID, _, _ := reg.Register(context.Background(), process.KindWorker, root, "a worker")

	recorder := newFakeRecorder()
	recorder.tool[workerID] = "memory_recall"
	recorder.toolCount[workerID] = 3

	blocks := Project(reg, recorder, root, ProjectConfig{BranchVisibilityThreshold: 0, TerminalRetention: time.Nanosecond})

	require.Len(t, blocks, 1)
	assert.Equal(t, "memory_recall", blocks[0].CurrentTool)
	assert.Equal(t, 3, blocks[0].ToolCallCount)
	assert.False(t, blocks[0].Terminal)
}
