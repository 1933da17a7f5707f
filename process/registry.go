// Package process implements the kernel's Process Registry: allocation of
// process identifiers, cooperative cancellation handles, parent/child
// bookkeeping, and a live snapshot used by the status projection. A
// process is any Channel, Branch, Worker, Compactor, or Cortex instance
// running in the kernel.
package process

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spacebot/kernel/hooks"
)

// Kind identifies which of the five process kinds an entry represents.
type Kind string

const (
	KindChannel   Kind = "channel"
	KindBranch    Kind = "branch"
	KindWorker    Kind = "worker"
	KindCompactor Kind = "compactor"
	KindCortex    Kind = "cortex"
)

// ID uniquely identifies a running process within this kernel instance.
type ID string

// Info is a point-in-time, read-only snapshot of one registered process.
// Registry.Snapshot returns a slice of these; nothing here is persisted.
type Info struct {
	ID        ID
	Kind      Kind
	ParentID  ID
	Label     string
	StartedAt time.Time
}

type entry struct {
	info   Info
	cancel context.CancelCauseFunc
}

// Registry tracks every live process and lets any holder of an ID cancel
// it cooperatively. It never blocks a turn: Register/Deregister/Cancel are
// all O(1) under a single RWMutex, and event emission goes through the
// configured hooks.Bus (a BoundedBus never blocks the caller; the plain
// Bus from hooks.NewBus runs subscribers inline).
type Registry struct {
	mu    sync.RWMutex
	procs map[ID]*entry
	bus   hooks.Bus
}

// New returns an empty Registry that publishes process lifecycle events on
// bus. Pass hooks.NewBus() or hooks.NewBoundedBus(...) for bus.
func New(bus hooks.Bus) *Registry {
	return &Registry{procs: make(map[ID]*entry), bus: bus}
}

// Register allocates a new process ID, derives a cancellable context from
// parentCtx, and records the entry. The returned context is cancelled
// either by the caller (via the returned cancel) or by Cancel(id, cause).
func (r *Registry) Register(parentCtx context.Context, kind Kind, parent ID, label string) (ID, context.Context, context.CancelCauseFunc) {
	id := ID(uuid.NewString())
	ctx, cancel := context.WithCancelCause(parentCtx)

	r.mu.Lock()
	r.procs[id] = &entry{
		info: Info{
			ID:        id,
			Kind:      kind,
			ParentID:  parent,
			Label:     label,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
	}
	r.mu.Unlock()

	return id, ctx, cancel
}

// Deregister removes a process from the registry. It does not cancel its
// context; callers that want cancellation-then-deregister should call
// Cancel first. Before the entry is dropped, its final Info is published
// as a KindProcessEnded event so a status retention window can still
// surface recently-terminal work that no longer appears in Snapshot.
func (r *Registry) Deregister(id ID) {
	r.mu.Lock()
	e, ok := r.procs[id]
	if ok {
		delete(r.procs, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.Emit(context.Background(), hooks.Event{
		Kind:      hooks.KindProcessEnded,
		ProcessID: string(e.info.ID),
		ParentID:  string(e.info.ParentID),
		Status:    string(e.info.Kind),
		Text:      e.info.Label,
		Data:      map[string]any{"started_at": e.info.StartedAt},
	})
}

// Cancel cooperatively cancels the process's context with cause. The
// process itself observes this at its next checkpoint; the kernel never
// forcibly tears down a goroutine.
func (r *Registry) Cancel(id ID, cause error) bool {
	r.mu.RLock()
	e, ok := r.procs[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.cancel(cause)
	return true
}

// Lookup returns the Info for id, if it is currently registered.
func (r *Registry) Lookup(id ID) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.procs[id]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// Children returns the Info of every process whose ParentID is parent.
func (r *Registry) Children(parent ID) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Info
	for _, e := range r.procs {
		if e.info.ParentID == parent {
			out = append(out, e.info)
		}
	}
	return out
}

// Snapshot returns Info for every currently registered process. Used by
// status.Project to build a live view; never cached or stored.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.procs))
	for _, e := range r.procs {
		out = append(out, e.info)
	}
	return out
}

// Emit publishes a process lifecycle or activity event on the registry's
// bus. Errors are intentionally swallowed: event delivery is best-effort
// and must never fail a turn.
func (r *Registry) Emit(ctx context.Context, evt hooks.Event) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Publish(ctx, evt)
}
