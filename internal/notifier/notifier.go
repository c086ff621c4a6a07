// Package notifier implements the push wake path: it listens for enqueue
// notifications on the process bus and relays each one to an ordered list of
// recipients (typically the scheduler's thread-creation entry point).
package notifier

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"caprun/internal/eventbus"
	"caprun/internal/executor"
	"caprun/internal/lifecycle"
	logx "caprun/pkg/logx"
)

// wakeRatePerSec bounds recipient invocations during enqueue storms. A wake
// is a hint; dropped wakes are covered by the poller's next tick.
const wakeRatePerSec = 25

const subscribeBuffer = 64

// Recipient receives one notification. Method values and closures both
// satisfy it.
type Recipient func(n eventbus.Notification)

// Notifier owns the bus subscription and the listen loop, which runs on the
// capsule's shared executor.
type Notifier struct {
	log     logx.Logger
	exec    *executor.Executor
	limiter *rate.Limiter

	mu         sync.Mutex
	recipients []Recipient
	stopping   bool

	listening bool
	unsub     func()
	stopCh    chan struct{}
	doneCh    chan struct{}

	received uint64
	dropped  uint64
}

// New builds the notifier and, when listening is enabled, immediately starts
// its listen loop on exec.
func New(enableListening bool, exec *executor.Executor, bus eventbus.Bus, log logx.Logger) (*Notifier, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{
		log:     log,
		exec:    exec,
		limiter: rate.NewLimiter(rate.Limit(wakeRatePerSec), wakeRatePerSec),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if !enableListening || bus == nil {
		// Nothing will ever run; the notifier is born drained.
		close(n.doneCh)
		return n, nil
	}

	ch, unsub := bus.Subscribe(subscribeBuffer)
	n.unsub = unsub
	n.listening = true

	if err := exec.Go("notifier.listen", func(ctx context.Context) error {
		defer close(n.doneCh)
		defer unsub()
		n.listen(ctx, ch)
		return nil
	}); err != nil {
		unsub()
		close(n.doneCh)
		return nil, err
	}

	n.log.Debug("listening for enqueue notifications")
	return n, nil
}

// Listening reports whether the push wake path is active.
func (n *Notifier) Listening() bool { return n.listening }

// Subscribe appends a recipient. Recipients are invoked in registration order
// on the listen goroutine.
func (n *Notifier) Subscribe(r Recipient) {
	if r == nil {
		return
	}
	n.mu.Lock()
	n.recipients = append(n.recipients, r)
	n.mu.Unlock()
}

// Received reports how many notifications reached the listen loop.
func (n *Notifier) Received() uint64 { return atomic.LoadUint64(&n.received) }

func (n *Notifier) listen(ctx context.Context, ch <-chan eventbus.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			atomic.AddUint64(&n.received, 1)
			if !n.limiter.Allow() {
				// Coalesce wake storms; the poller covers the remainder.
				atomic.AddUint64(&n.dropped, 1)
				continue
			}
			n.mu.Lock()
			recipients := make([]Recipient, len(n.recipients))
			copy(recipients, n.recipients)
			n.mu.Unlock()
			for _, r := range recipients {
				r(msg)
			}
		}
	}
}

// Shutdown stops the listen loop under the uniform timeout policy.
// Interruption tears down the bus subscription, which unblocks the loop.
func (n *Notifier) Shutdown(t lifecycle.Timeout) error {
	n.mu.Lock()
	first := !n.stopping
	n.stopping = true
	n.mu.Unlock()

	if first {
		close(n.stopCh)
	}
	if t.IsAsync() {
		return nil
	}
	lifecycle.Drain(t, n.doneCh, func() {
		if n.unsub != nil {
			n.unsub()
		}
	})
	return nil
}

// IsShutdown reports whether the listen loop has fully exited (trivially true
// when listening was never enabled).
func (n *Notifier) IsShutdown() bool {
	select {
	case <-n.doneCh:
		return true
	default:
		return false
	}
}
