package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Notification is a lightweight, in-memory wake signal used to decouple job
// producers from the runtime that executes them.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop notifications (bounded backpressure). A wake
//     signal is a hint, not a unit of work; the poller covers dropped wakes.
//
// Payload should be small and ideally JSON-serializable.
type Notification struct {
	Topic   string
	Queue   string
	Time    time.Time
	Payload any
}

// TopicJobEnqueued is published by the job store after a successful enqueue.
const TopicJobEnqueued = "job.enqueued"

type Bus interface {
	Publish(n Notification)
	Subscribe(buffer int) (ch <-chan Notification, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Notification{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Notification
	seq  atomic.Uint64
}

func (b *memBus) Publish(n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Notification, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- n:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Notification, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
