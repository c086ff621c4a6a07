// Package cronmgr enqueues jobs on recurring schedules. It owns a cron
// runner whose entries come straight from configuration; each fire builds a
// job record and hands it to the store, so cron work flows through the same
// wake and execution paths as any other enqueue.
package cronmgr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"caprun/internal/config"
	"caprun/internal/jobs"
	"caprun/internal/jobstore"
	"caprun/internal/lifecycle"
	logx "caprun/pkg/logx"
)

// specParser accepts 5- and 6-field specs plus @descriptors.
var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

const enqueueTimeout = 5 * time.Second

// ValidateSpec reports whether spec parses. Exposed so config validation can
// reject bad schedules before they reach a running manager.
func ValidateSpec(spec string) error {
	_, err := specParser.Parse(spec)
	return err
}

// Manager schedules configured cron entries. It starts ticking at
// construction and stops under the uniform timeout policy.
type Manager struct {
	log   logx.Logger
	store jobstore.Store
	cron  *cron.Cron

	mu       sync.Mutex
	stopping bool
	stopCtx  context.Context

	entries int
	fired   uint64
}

// New builds and starts the manager. Every entry must parse and name a job;
// a single bad entry fails construction rather than silently dropping the
// schedule.
func New(entries []config.CronEntry, store jobstore.Store, log logx.Logger) (*Manager, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		log:   log,
		store: store,
		cron:  cron.New(cron.WithParser(specParser)),
	}

	for i, e := range entries {
		if e.Job == "" {
			return nil, fmt.Errorf("cron entry %d (%s): job is required", i, e.Key)
		}
		entry := e
		if _, err := m.cron.AddFunc(entry.Spec, func() { m.fire(entry) }); err != nil {
			return nil, fmt.Errorf("cron entry %d (%s): %w", i, entry.Key, err)
		}
		m.entries++
	}

	m.cron.Start()
	log.Debug("cron manager started", logx.Int("entries", m.entries))
	return m, nil
}

// Entries reports how many schedules the manager runs.
func (m *Manager) Entries() int { return m.entries }

// Fired reports how many schedule fires have been handled.
func (m *Manager) Fired() uint64 { return atomic.LoadUint64(&m.fired) }

func (m *Manager) fire(entry config.CronEntry) {
	atomic.AddUint64(&m.fired, 1)

	job, err := jobs.New(entry.Queue, entry.Job, entry.Args)
	if err != nil {
		m.log.Warn("cron entry skipped", logx.String("key", entry.Key), logx.Err(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	if err := m.store.Enqueue(ctx, job); err != nil {
		m.log.Warn("cron enqueue failed",
			logx.String("key", entry.Key), logx.String("job", entry.Job), logx.Err(err))
		return
	}
	m.log.Debug("cron enqueued", logx.String("key", entry.Key), logx.String("job", entry.Job))
}

// Shutdown stops the schedule and drains in-flight fires under the uniform
// timeout policy. Fires are short store writes, so there is nothing to
// interrupt beyond not waiting for them.
func (m *Manager) Shutdown(t lifecycle.Timeout) error {
	m.mu.Lock()
	if !m.stopping {
		m.stopping = true
		m.stopCtx = m.cron.Stop()
	}
	done := m.stopCtx.Done()
	m.mu.Unlock()

	if t.IsAsync() {
		return nil
	}
	lifecycle.Drain(t, done, nil)
	return nil
}

// IsShutdown reports whether the schedule is stopped and all fires have
// completed.
func (m *Manager) IsShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopping {
		return false
	}
	select {
	case <-m.stopCtx.Done():
		return true
	default:
		return false
	}
}
