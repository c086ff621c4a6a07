package config

import (
	"time"

	"caprun/internal/lifecycle"
)

// Defaults applied by the accessor methods when a field is omitted.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultMaxThreads   = 5
)

// Config is the on-disk configuration (yaml or json; see Manager).
//
// Raw duration fields are strings ("10s", "2m") so the file format stays
// uniform; the typed accessors below parse and default them.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Runtime RuntimeConfig `json:"runtime"`
	Store   StoreConfig   `json:"store"`
	Cron    CronConfig    `json:"cron"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RuntimeConfig controls the capsule and its collaborators.
type RuntimeConfig struct {
	// ListenNotify enables the push wake path. Defaults to true; the poller
	// still covers missed wakes either way.
	ListenNotify *bool `json:"listen_notify"`

	PollInterval string `json:"poll_interval"`

	// Queues the scheduler serves. Empty means ["default"].
	Queues []string `json:"queues"`

	// MaxThreads caps concurrent execution threads per queue.
	MaxThreads int `json:"max_threads"`

	// ShutdownOnIdle shuts the runtime down after this long with no job
	// executed. Empty or "0" disables idle shutdown.
	ShutdownOnIdle string `json:"shutdown_on_idle"`

	// ShutdownTimeout: "async", "-1" (wait forever), or a duration.
	// Empty means wait forever.
	ShutdownTimeout string `json:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
}

type CronConfig struct {
	Enabled bool        `json:"enabled"`
	Entries []CronEntry `json:"entries"`
}

// CronEntry enqueues one job on a recurring schedule.
type CronEntry struct {
	Key   string         `json:"key"`
	Spec  string         `json:"spec"`
	Job   string         `json:"job"`
	Queue string         `json:"queue"`
	Args  map[string]any `json:"args"`
}

// ---- Typed accessors (the capsule reads configuration only through these) ----

func (c *Config) EnableListenNotify() bool {
	if c == nil || c.Runtime.ListenNotify == nil {
		return true
	}
	return *c.Runtime.ListenNotify
}

func (c *Config) PollInterval() time.Duration {
	if c == nil {
		return DefaultPollInterval
	}
	d, err := ParseDurationOrDefault("runtime.poll_interval", c.Runtime.PollInterval, DefaultPollInterval)
	if err != nil {
		return DefaultPollInterval
	}
	return d
}

func (c *Config) Queues() []string {
	if c == nil || len(c.Runtime.Queues) == 0 {
		return []string{"default"}
	}
	return c.Runtime.Queues
}

func (c *Config) MaxThreads() int {
	if c == nil || c.Runtime.MaxThreads <= 0 {
		return DefaultMaxThreads
	}
	return c.Runtime.MaxThreads
}

func (c *Config) ShutdownOnIdle() time.Duration {
	if c == nil {
		return 0
	}
	d, err := ParseDurationField("runtime.shutdown_on_idle", c.Runtime.ShutdownOnIdle)
	if err != nil {
		return 0
	}
	return d
}

func (c *Config) ShutdownTimeout() lifecycle.Timeout {
	if c == nil {
		return lifecycle.WaitForever()
	}
	t, err := lifecycle.ParseTimeout(c.Runtime.ShutdownTimeout)
	if err != nil || t.IsDefault() {
		return lifecycle.WaitForever()
	}
	return t
}

func (c *Config) EnableCron() bool {
	return c != nil && c.Cron.Enabled && len(c.Cron.Entries) > 0
}

func (c *Config) CronEntries() []CronEntry {
	if c == nil {
		return nil
	}
	return c.Cron.Entries
}

// Validate rejects configs that would fail at boot. Cron specs are validated
// by the cron manager (which owns the parser); a validator hook can layer
// that in (see Manager.SetValidator).
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if _, err := ParseDurationField("runtime.poll_interval", c.Runtime.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("runtime.shutdown_on_idle", c.Runtime.ShutdownOnIdle); err != nil {
		return err
	}
	if _, err := lifecycle.ParseTimeout(c.Runtime.ShutdownTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("store.busy_timeout", c.Store.BusyTimeout); err != nil {
		return err
	}
	return nil
}
