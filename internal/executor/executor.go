// Package executor provides the capsule's shared execution context: a home
// for named background goroutines with panic recovery, counters, and a
// shutdown that honors the runtime's uniform timeout policy.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"caprun/internal/lifecycle"
	logx "caprun/pkg/logx"
)

var ErrShutdown = errors.New("executor: shut down")

// Executor hosts goroutines tied to one shared context.
// - Named goroutines (for logging/debug)
// - Panic recovery
// - Graceful or interrupting shutdown per lifecycle.Timeout
type Executor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log logx.Logger

	// Counters are best-effort operational metrics.
	started uint64
	active  int64

	wg sync.WaitGroup

	mu       sync.Mutex
	stopping bool

	doneOnce sync.Once
	doneCh   chan struct{}

	firstErr atomic.Value // stores error
	errOnce  sync.Once
}

type Option func(*Executor)

func WithLogger(log logx.Logger) Option {
	return func(e *Executor) { e.log = log }
}

func New(parent context.Context, opts ...Option) *Executor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	e := &Executor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Context returns the shared execution context. It is canceled when shutdown
// interrupts in-flight work.
func (e *Executor) Context() context.Context { return e.ctx }

// Err returns the first error observed from a hosted goroutine (if any).
func (e *Executor) Err() error {
	v := e.firstErr.Load()
	if v == nil {
		return nil
	}
	err, _ := v.(error)
	return err
}

// Active reports the number of currently running goroutines.
func (e *Executor) Active() int64 { return atomic.LoadInt64(&e.active) }

// Started reports the total goroutines ever started on this executor.
func (e *Executor) Started() uint64 { return atomic.LoadUint64(&e.started) }

// Go runs fn on the shared context. It fails once shutdown has begun.
func (e *Executor) Go(name string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return ErrShutdown
	}
	e.wg.Add(1)
	e.mu.Unlock()

	atomic.AddUint64(&e.started, 1)
	atomic.AddInt64(&e.active, 1)
	go func() {
		defer e.wg.Done()
		defer atomic.AddInt64(&e.active, -1)

		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic in %s: %v", name, r)
				if !e.log.IsZero() {
					e.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
				e.setErr(err)
			}
		}()

		if !e.log.IsZero() {
			e.log.Debug("goroutine started", logx.String("name", name))
		}
		err := fn(e.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.setErr(fmt.Errorf("%s: %w", name, err))
		}
		if !e.log.IsZero() {
			e.log.Debug("goroutine stopped", logx.String("name", name))
		}
	}()
	return nil
}

// Shutdown drains hosted goroutines under the uniform timeout policy.
//
// Context cancellation is the executor's stop signal, not a kill: hosted
// loops are expected to unwind when ctx is done, and the timeout only bounds
// how long Shutdown waits for that unwinding. Async begins the stop and
// returns without waiting.
func (e *Executor) Shutdown(t lifecycle.Timeout) error {
	e.mu.Lock()
	first := !e.stopping
	e.stopping = true
	e.mu.Unlock()

	if first {
		e.cancel()
		// One waiter closes doneCh when all hosted goroutines have exited.
		e.doneOnce.Do(func() {
			go func() {
				e.wg.Wait()
				close(e.doneCh)
			}()
		})
	}

	if t.IsAsync() {
		return nil
	}
	lifecycle.Drain(t, e.doneCh, e.cancel)
	return nil
}

// IsShutdown reports whether shutdown has begun and all hosted goroutines
// have exited.
func (e *Executor) IsShutdown() bool {
	e.mu.Lock()
	stopping := e.stopping
	e.mu.Unlock()
	if !stopping {
		return false
	}
	select {
	case <-e.doneCh:
		return true
	default:
		return false
	}
}

func (e *Executor) setErr(err error) {
	if err == nil {
		return
	}
	e.errOnce.Do(func() { e.firstErr.Store(err) })
}
