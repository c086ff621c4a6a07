// Package poller implements the pull wake path: a ticker that invokes a list
// of zero-argument recipients every poll interval, independent of push
// notifications. It is the safety net for dropped or disabled wake signals.
package poller

import (
	"sync"
	"sync/atomic"
	"time"

	"caprun/internal/lifecycle"
	logx "caprun/pkg/logx"
)

// Recipient is invoked once per tick.
type Recipient func()

type Poller struct {
	log      logx.Logger
	interval time.Duration

	mu         sync.Mutex
	recipients []Recipient
	stopping   bool

	stopCh chan struct{}
	doneCh chan struct{}

	ticks uint64
}

// New starts the poll loop. An interval <= 0 disables polling; the poller is
// then born drained.
func New(interval time.Duration, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poller{
		log:      log,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	if interval <= 0 {
		close(p.doneCh)
		return p
	}

	go p.loop()
	return p
}

func (p *Poller) Interval() time.Duration { return p.interval }

// Subscribe appends a recipient. Recipients are invoked in registration order
// on the poll goroutine.
func (p *Poller) Subscribe(r Recipient) {
	if r == nil {
		return
	}
	p.mu.Lock()
	p.recipients = append(p.recipients, r)
	p.mu.Unlock()
}

// Ticks reports how many poll ticks have fired.
func (p *Poller) Ticks() uint64 { return atomic.LoadUint64(&p.ticks) }

func (p *Poller) loop() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Debug("poll loop started", logx.Duration("interval", p.interval))
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			atomic.AddUint64(&p.ticks, 1)
			p.mu.Lock()
			recipients := make([]Recipient, len(p.recipients))
			copy(recipients, p.recipients)
			p.mu.Unlock()
			for _, r := range recipients {
				r()
			}
		}
	}
}

// Shutdown stops the poll loop under the uniform timeout policy. The loop
// holds no interruptible work of its own, so graceful and immediate shutdown
// only differ in whether the current recipient fanout finishes.
func (p *Poller) Shutdown(t lifecycle.Timeout) error {
	p.mu.Lock()
	first := !p.stopping
	p.stopping = true
	p.mu.Unlock()

	if first {
		close(p.stopCh)
	}
	if t.IsAsync() {
		return nil
	}
	lifecycle.Drain(t, p.doneCh, nil)
	return nil
}

// IsShutdown reports whether the poll loop has exited (trivially true when
// polling is disabled).
func (p *Poller) IsShutdown() bool {
	select {
	case <-p.doneCh:
		return true
	default:
		return false
	}
}
