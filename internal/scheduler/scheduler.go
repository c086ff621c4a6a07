// Package scheduler creates and accounts for execution threads: short-lived
// goroutines that drain a queue until it is empty. Threads are created in
// response to wake signals (push, poll tick, or direct CreateThread calls)
// and are capped per queue.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"caprun/internal/config"
	"caprun/internal/lifecycle"
	logx "caprun/pkg/logx"
)

const queueRefreshTimeout = 2 * time.Second

type Scheduler struct {
	log       logx.Logger
	performer Performer

	maxThreads int

	// ctx interrupts in-flight execution threads on forced shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup

	// The served queue set grows at runtime: push wakes register the queue
	// they name, and fanout wakes pull the performer's current queue list, so
	// work on a queue missing from the config still gets executed.
	qmu      sync.RWMutex
	queues   []string
	perQueue map[string]*int32

	active int64

	// lastExecutedAt stores a time.Time; zero until the first job completes.
	lastExecutedAt atomic.Value

	doneOnce sync.Once
	doneCh   chan struct{}
}

// New builds a scheduler serving the configured queues. With warmCache the
// performer's queue set is merged in up front, so queues that already hold
// work are served before the first wake.
func New(conf *config.Config, performer Performer, warmCache bool, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		log:        log,
		performer:  performer,
		maxThreads: conf.MaxThreads(),
		ctx:        ctx,
		cancel:     cancel,
		perQueue:   map[string]*int32{},
		doneCh:     make(chan struct{}),
	}

	for _, q := range conf.Queues() {
		s.counter(q)
	}
	if warmCache {
		s.refreshQueues()
	}

	log.Debug("scheduler ready",
		logx.Int("queues", len(s.Queues())), logx.Int("max_threads", s.maxThreads))
	return s
}

// counter returns the thread counter for the queue, registering the queue on
// first sight.
func (s *Scheduler) counter(queue string) *int32 {
	s.qmu.RLock()
	c, ok := s.perQueue[queue]
	s.qmu.RUnlock()
	if ok {
		return c
	}

	s.qmu.Lock()
	defer s.qmu.Unlock()
	if c, ok := s.perQueue[queue]; ok {
		return c
	}
	c = new(int32)
	s.perQueue[queue] = c
	s.queues = append(s.queues, queue)
	return c
}

// refreshQueues merges the performer's current queue list into the served
// set. Called at construction (warm cache) and on every fanout wake.
func (s *Scheduler) refreshQueues() {
	if s.performer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, queueRefreshTimeout)
	defer cancel()
	found, err := s.performer.Queues(ctx)
	if err != nil {
		s.log.Debug("queue refresh failed", logx.Err(err))
		return
	}
	for _, q := range found {
		s.counter(q)
	}
}

// Queues returns the served queue set.
func (s *Scheduler) Queues() []string {
	s.qmu.RLock()
	defer s.qmu.RUnlock()
	return append([]string(nil), s.queues...)
}

// CreateThread spawns execution threads for the wake described by state.
// With fanout it refreshes the served queue set from the performer and wakes
// every queue; otherwise it wakes state's queue (registering it if new, so a
// push wake for an unconfigured queue is still served), creating up to
// state.Count threads there. A nil state wakes the first served queue. It
// reports whether at least one thread was created; false means the caps are
// busy or the scheduler is stopping, both of which are fine — running
// threads will drain the work.
func (s *Scheduler) CreateThread(state *JobState, fanout bool) bool {
	if fanout {
		s.refreshQueues()
		created := false
		for _, q := range s.Queues() {
			if s.spawn(q) {
				created = true
			}
		}
		return created
	}

	var queue string
	if state != nil && state.Queue != "" {
		queue = state.Queue
	} else {
		qs := s.Queues()
		if len(qs) == 0 {
			return false
		}
		queue = qs[0]
	}

	want := 1
	if state != nil && state.Count > want {
		want = state.Count
	}
	created := false
	for i := 0; i < want; i++ {
		if s.spawn(queue) {
			created = true
		}
	}
	return created
}

func (s *Scheduler) spawn(queue string) bool {
	counter := s.counter(queue)

	for {
		cur := atomic.LoadInt32(counter)
		if int(cur) >= s.maxThreads {
			return false
		}
		if atomic.CompareAndSwapInt32(counter, cur, cur+1) {
			break
		}
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		atomic.AddInt32(counter, -1)
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	atomic.AddInt64(&s.active, 1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)
		defer atomic.AddInt32(counter, -1)
		s.thread(queue)
	}()
	return true
}

// thread drains the queue until it is empty, the performer fails, or the
// scheduler is interrupted.
func (s *Scheduler) thread(queue string) {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		performed, err := s.performer.Next(s.ctx, queue)
		if err != nil {
			s.log.Warn("execution thread stopping", logx.String("queue", queue), logx.Err(err))
			return
		}
		if !performed {
			return
		}
		s.lastExecutedAt.Store(time.Now())
	}
}

// Stats never fails and is safe at any lifecycle stage.
func (s *Scheduler) Stats() Stats {
	st := Stats{ActiveExecutionThreadCount: int(atomic.LoadInt64(&s.active))}
	if v := s.lastExecutedAt.Load(); v != nil {
		st.LastExecutedAt = v.(time.Time)
	}
	return st
}

// Shutdown stops thread creation, then drains in-flight threads under the
// uniform timeout policy; interruption cancels the execution context.
func (s *Scheduler) Shutdown(t lifecycle.Timeout) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})

	if t.IsAsync() {
		return nil
	}
	lifecycle.Drain(t, s.doneCh, s.cancel)
	return nil
}

// IsShutdown reports whether shutdown has begun and all execution threads
// have exited.
func (s *Scheduler) IsShutdown() bool {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if !stopping {
		return false
	}
	select {
	case <-s.doneCh:
		return true
	default:
		return false
	}
}
