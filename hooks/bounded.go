package hooks

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/spacebot/kernel/telemetry"
)

// BoundedBus wraps Bus so that a slow or stuck subscriber can never make
// Publish block the caller. Each subscriber gets its own bounded queue;
// when a queue is full the oldest pending event is dropped to make room
// for the new one, and DroppedCount is incremented. This is the mechanism
// the Channel/Branch/Worker/Compactor/Cortex processes rely on so a single
// wedged subscriber cannot stall turn execution anywhere in the kernel —
// there is no second ad hoc queue implementation anywhere else in the tree.
type BoundedBus struct {
	queueSize int
	metrics   telemetry.Metrics
	dropped   atomic.Int64

	mu   sync.RWMutex
	subs map[int]*boundedSubscriber
	next int
}

type boundedSubscriber struct {
	ch     chan Event
	done   chan struct{}
	cancel context.CancelFunc
}

// NewBoundedBus returns a Bus whose Publish call never blocks on a
// subscriber. queueSize must be at least 1.
func NewBoundedBus(queueSize int, metrics telemetry.Metrics) *BoundedBus {
	if queueSize < 1 {
		queueSize = 1
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &BoundedBus{queueSize: queueSize, metrics: metrics, subs: make(map[int]*boundedSubscriber)}
}

// DroppedCount returns the number of events dropped so far across all
// subscribers, the kernel's "events-dropped" counter.
func (b *BoundedBus) DroppedCount() int64 { return b.dropped.Load() }

func (b *BoundedBus) Publish(_ context.Context, evt Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- evt:
		default:
			// Queue full: drop the oldest pending event and retry once.
			select {
			case <-s.ch:
				b.dropped.Add(1)
				b.metrics.IncCounter("events_dropped_total", 1)
			default:
			}
			select {
			case s.ch <- evt:
			default:
				b.dropped.Add(1)
				b.metrics.IncCounter("events_dropped_total", 1)
			}
		}
	}
	return nil
}

func (b *BoundedBus) Register(sub Subscriber) Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &boundedSubscriber{
		ch:     make(chan Event, b.queueSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = s
	b.mu.Unlock()

	go func() {
		defer close(s.done)
		for {
			select {
			case evt := <-s.ch:
				_ = sub.Notify(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	return &boundedSubscription{bus: b, id: id, sub: s}
}

func (b *BoundedBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		s.cancel()
		delete(b.subs, id)
	}
	return nil
}

type boundedSubscription struct {
	bus *BoundedBus
	id  int
	sub *boundedSubscriber
}

func (s *boundedSubscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s.id]; ok {
		s.sub.cancel()
		delete(s.bus.subs, s.id)
	}
}
