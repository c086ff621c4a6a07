// Package app assembles the daemon: configuration, logging, the job store,
// and the capsule that runs the job runtime. It owns the pieces the capsule
// does not: the config watcher, hot reload, and idle-driven exit.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"caprun/internal/capsule"
	"caprun/internal/config"
	"caprun/internal/cronmgr"
	"caprun/internal/eventbus"
	"caprun/internal/executor"
	"caprun/internal/jobs"
	"caprun/internal/jobstore"
	"caprun/internal/lifecycle"
	logx "caprun/pkg/logx"
)

const idlePollInterval = time.Second

type App struct {
	cfgPath string

	mgr  *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus      eventbus.Bus
	store    jobstore.Store
	handlers *jobs.Registry
	reg      *capsule.Registry

	// sup hosts the app's own background loops (config watch/reload, idle
	// watch), separate from the executor each capsule owns.
	sup *executor.Executor

	mu   sync.Mutex
	caps *capsule.Capsule

	idleOnce sync.Once
	idleCh   chan struct{}
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	storeCfg, err := storeConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := jobstore.Open(storeCfg, bus, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath:  cfgPath,
		mgr:      mgr,
		logs:     logs,
		log:      log,
		bus:      bus,
		store:    store,
		handlers: jobs.NewRegistry(),
		reg:      capsule.NewRegistry(),
		idleCh:   make(chan struct{}),
	}
	a.caps = a.newCapsule(cfg)
	return a, nil
}

// Handlers is where callers register job handlers before Start.
func (a *App) Handlers() *jobs.Registry { return a.handlers }

// Store exposes the job store for enqueueing.
func (a *App) Store() jobstore.Store { return a.store }

func (a *App) newCapsule(cfg *config.Config) *capsule.Capsule {
	return capsule.New(cfg, capsule.Deps{
		Store:    a.store,
		Handlers: a.handlers,
		Bus:      a.bus,
		Registry: a.reg,
	}, a.log.With(logx.String("comp", "capsule")))
}

func storeConfig(cfg *config.Config) (jobstore.Config, error) {
	busy, err := config.ParseDurationField("store.busy_timeout", cfg.Store.BusyTimeout)
	if err != nil {
		return jobstore.Config{}, err
	}
	return jobstore.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		BusyTimeout: busy,
	}, nil
}

func validateConfig(ctx context.Context, cfg *config.Config) error {
	for i, e := range cfg.CronEntries() {
		if err := cronmgr.ValidateSpec(e.Spec); err != nil {
			return fmt.Errorf("cron entry %d (%s): %w", i, e.Key, err)
		}
	}
	return nil
}

// Start boots the capsule and the app's background loops.
func (a *App) Start(ctx context.Context) error {
	a.sup = executor.New(ctx, executor.WithLogger(a.log))
	a.mgr.SetValidator(validateConfig)

	if _, err := a.caps.Start(false); err != nil {
		return err
	}

	sub := a.mgr.Subscribe(8)
	if err := a.sup.Go("config.reload", func(c context.Context) error {
		defer a.mgr.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	}); err != nil {
		return err
	}
	if err := a.sup.Go("config.watch", a.mgr.Watch); err != nil {
		return err
	}
	if err := a.sup.Go("idle.watch", func(c context.Context) error {
		a.idleLoop(c)
		return nil
	}); err != nil {
		return err
	}

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(cfg)
		}
	}
}

// applyConfig applies a hot reload. Logging swaps in place; runtime and cron
// changes get a fresh capsule built against the new config (the old one shuts
// down but stays listed in the registry). Store driver changes need a process
// restart and are only logged.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a.mu.Lock()
	defer a.mu.Unlock()

	old := a.caps
	if err := old.Shutdown(lifecycle.UseDefault()); err != nil {
		a.log.Warn("capsule shutdown during reload", logx.Err(err))
	}
	a.caps = a.newCapsule(cfg)
	if _, err := a.caps.Start(false); err != nil {
		a.log.Error("capsule start after reload failed", logx.Err(err))
		return
	}

	if newStore, err := storeConfig(cfg); err == nil {
		if cur, _ := storeConfig(old.Config()); cur != newStore {
			a.log.Warn("store config changed; restart the process to apply")
		}
	}
	a.log.Info("config reloaded")
}

func (a *App) idleLoop(ctx context.Context) {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			caps := a.caps
			a.mu.Unlock()
			if caps.Idle() {
				a.log.Info("idle window elapsed, shutting down")
				a.idleOnce.Do(func() { close(a.idleCh) })
				return
			}
		}
	}
}

// Done is closed when the idle watcher decides the process should exit.
func (a *App) Done() <-chan struct{} { return a.idleCh }

// Stop shuts down every capsule this app constructed, then the app's own
// loops and resources.
func (a *App) Stop() error {
	a.log.Info("stopping")

	err := a.reg.ShutdownAll(lifecycle.UseDefault())
	if err != nil {
		a.log.Warn("capsule shutdown", logx.Err(err))
	}

	if a.sup != nil {
		_ = a.sup.Shutdown(lifecycle.Wait(2 * time.Second))
	}
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}
