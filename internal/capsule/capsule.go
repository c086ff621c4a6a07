// Package capsule coordinates the lifecycle of the job runtime's
// collaborators: the shared executor, the push notifier, the pull poller, the
// thread scheduler, and the optional cron manager. A capsule owns one
// instance of each once started and tears them down under one uniform
// timeout policy.
package capsule

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"caprun/internal/config"
	"caprun/internal/cronmgr"
	"caprun/internal/eventbus"
	"caprun/internal/executor"
	"caprun/internal/jobs"
	"caprun/internal/jobstore"
	"caprun/internal/lifecycle"
	"caprun/internal/notifier"
	"caprun/internal/poller"
	"caprun/internal/scheduler"
	logx "caprun/pkg/logx"
)

// ErrAsyncRestart rejects Restart with the async sentinel: an asynchronous
// shutdown racing a fresh start is undefined.
var ErrAsyncRestart = errors.New("capsule: restart requires a waiting timeout")

// StartResult reports whether Start performed the construction or skipped it.
type StartResult int

const (
	Skipped StartResult = iota
	Started
)

func (r StartResult) String() string {
	if r == Started {
		return "started"
	}
	return "skipped"
}

// Deps are the externally-owned resources a capsule executes jobs against.
// The capsule owns its collaborators; it never owns these.
type Deps struct {
	Store    jobstore.Store
	Handlers *jobs.Registry
	Bus      eventbus.Bus

	// Registry receives the capsule at construction. Nil means Default.
	Registry *Registry
}

type Capsule struct {
	cfg *config.Config
	log logx.Logger

	store    jobstore.Store
	handlers *jobs.Registry
	bus      eventbus.Bus

	// Checked lock-free on the hot path; mutated only under mu.
	startable atomic.Bool
	running   atomic.Bool

	mu                    sync.Mutex
	shutdownOnIdleEnabled bool

	exec  *executor.Executor
	notif *notifier.Notifier
	poll  *poller.Poller
	sched *scheduler.Scheduler
	cron  *cronmgr.Manager
}

// New builds a startable capsule and registers it. Nothing is allocated until
// the first Start (or the first CreateThread, which starts lazily).
func New(cfg *config.Config, deps Deps, log logx.Logger) *Capsule {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Capsule{
		cfg:      cfg,
		log:      log,
		store:    deps.Store,
		handlers: deps.Handlers,
		bus:      deps.Bus,
	}
	c.startable.Store(true)

	reg := deps.Registry
	if reg == nil {
		reg = Default
	}
	reg.register(c)
	return c
}

func (c *Capsule) startPredicate(force bool) bool {
	return !c.running.Load() && (c.startable.Load() || force)
}

// Start constructs the collaborators and wires the wake paths. Plain Start
// runs at most once; after a shutdown only Start(force) (used by Restart)
// starts again. Concurrent callers race safely; exactly one constructs.
func (c *Capsule) Start(force bool) (StartResult, error) {
	// Cheap rejection for the common already-running call from CreateThread.
	if !c.startPredicate(force) {
		return Skipped, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.startPredicate(force) {
		return Skipped, nil
	}

	if err := c.startLocked(); err != nil {
		// Partial construction is a fatal boot condition, not retried here.
		// Drain whatever was built so no wired loop outlives the attempt.
		c.teardownPartialLocked()
		return Skipped, err
	}

	c.shutdownOnIdleEnabled = c.cfg.ShutdownOnIdle() > 0
	c.startable.Store(false)
	c.running.Store(true)
	c.log.Info("capsule started",
		logx.Bool("listening", c.notif.Listening()),
		logx.Duration("poll_interval", c.poll.Interval()),
		logx.Bool("cron", c.cron != nil))
	return Started, nil
}

func (c *Capsule) startLocked() error {
	c.exec = executor.New(nil, executor.WithLogger(c.log))

	n, err := notifier.New(c.cfg.EnableListenNotify(), c.exec, c.bus, c.log)
	if err != nil {
		return err
	}
	c.notif = n

	c.poll = poller.New(c.cfg.PollInterval(), c.log)

	performer := scheduler.NewStorePerformer(c.store, c.handlers, c.log)
	c.sched = scheduler.New(c.cfg, performer, true, c.log)

	// Push wake: one notification wakes the queue it names.
	sched := c.sched
	c.notif.Subscribe(func(msg eventbus.Notification) {
		sched.CreateThread(&scheduler.JobState{Queue: msg.Queue}, false)
	})
	// Pull wake: every poll tick fans out across all queues.
	c.poll.Subscribe(func() {
		sched.CreateThread(nil, true)
	})

	if c.cfg.EnableCron() {
		m, err := cronmgr.New(c.cfg.CronEntries(), c.store, c.log)
		if err != nil {
			return err
		}
		c.cron = m
	}
	return nil
}

// teardownPartialLocked interrupts and clears collaborators left behind by a
// failed construction, so a later Start cannot overwrite live loops.
func (c *Capsule) teardownPartialLocked() {
	for _, col := range c.collaborators() {
		_ = col.Shutdown(lifecycle.Immediate())
	}
	c.exec, c.notif, c.poll, c.sched, c.cron = nil, nil, nil, nil, nil
}

// Shutdown drains the collaborators sequentially. The resolved timeout
// applies to each collaborator's own call independently, not as one shared
// window. It is idempotent and safe on a never-started capsule; the
// lifecycle flags reset unconditionally.
func (c *Capsule) Shutdown(t lifecycle.Timeout) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownLocked(t)
}

func (c *Capsule) shutdownLocked(t lifecycle.Timeout) error {
	t = t.Resolve(c.cfg.ShutdownTimeout())

	var errs []error
	for _, col := range c.collaborators() {
		if err := col.Shutdown(t); err != nil {
			errs = append(errs, err)
		}
	}

	c.startable.Store(false)
	c.running.Store(false)
	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.log.Info("capsule shut down", logx.String("timeout", t.String()))
	return nil
}

// collaborators lists the present collaborators in shutdown order. Callers
// hold mu.
func (c *Capsule) collaborators() []lifecycle.Collaborator {
	cols := make([]lifecycle.Collaborator, 0, 5)
	if c.exec != nil {
		cols = append(cols, c.exec)
	}
	if c.notif != nil {
		cols = append(cols, c.notif)
	}
	if c.poll != nil {
		cols = append(cols, c.poll)
	}
	if c.sched != nil {
		cols = append(cols, c.sched)
	}
	if c.cron != nil {
		cols = append(cols, c.cron)
	}
	return cols
}

// Restart shuts down and force-starts with fresh collaborators. The timeout
// must wait (bounded or forever): the async sentinel fails before any state
// change, and so does a configured default that resolves to async.
func (c *Capsule) Restart(t lifecycle.Timeout) error {
	if t.Resolve(c.cfg.ShutdownTimeout()).IsAsync() {
		return ErrAsyncRestart
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.shutdownLocked(t); err != nil {
		return err
	}
	if err := c.startLocked(); err != nil {
		c.teardownPartialLocked()
		return err
	}
	c.shutdownOnIdleEnabled = c.cfg.ShutdownOnIdle() > 0
	c.startable.Store(false)
	c.running.Store(true)
	c.log.Info("capsule restarted")
	return nil
}

// Config returns the read-only configuration the capsule was built against.
func (c *Capsule) Config() *config.Config { return c.cfg }

// Running returns the lifecycle flag directly; it is not re-derived from
// collaborator state.
func (c *Capsule) Running() bool { return c.running.Load() }

// IsShutdown reports whether every present collaborator has finished shutting
// down; vacuously true when nothing was ever constructed.
func (c *Capsule) IsShutdown() bool {
	c.mu.Lock()
	cols := c.collaborators()
	c.mu.Unlock()

	for _, col := range cols {
		if !col.IsShutdown() {
			return false
		}
	}
	return true
}

// Idle reports whether the configured idle window has elapsed with no job
// executed. Always false when idle shutdown is disabled; true when enabled
// and no job has ever executed.
func (c *Capsule) Idle() bool {
	c.mu.Lock()
	enabled := c.shutdownOnIdleEnabled
	c.mu.Unlock()
	if !enabled {
		return false
	}

	st := c.Stats()
	if st.LastExecutedAt.IsZero() {
		return true
	}
	return time.Since(st.LastExecutedAt) >= c.cfg.ShutdownOnIdle()
}

// Stats is sourced solely from the scheduler; without one it returns zero
// values. It never fails and is safe at any lifecycle stage.
func (c *Capsule) Stats() scheduler.Stats {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched == nil {
		return scheduler.Stats{}
	}
	return sched.Stats()
}

// Scheduler returns the owned scheduler, nil before the first start.
func (c *Capsule) Scheduler() *scheduler.Scheduler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched
}

// CreateThread is the hot-path wake entry. A startable capsule boots lazily
// first. The second return is false when no scheduler exists to forward to
// (never started, or shut down and not restarted).
func (c *Capsule) CreateThread(state *scheduler.JobState) (created, ok bool) {
	if c.startPredicate(false) {
		if _, err := c.Start(false); err != nil {
			c.log.Error("lazy start failed", logx.Err(err))
			return false, false
		}
	}

	c.mu.Lock()
	sched := c.sched
	running := c.running.Load()
	c.mu.Unlock()
	if sched == nil || !running {
		return false, false
	}
	return sched.CreateThread(state, false), true
}
