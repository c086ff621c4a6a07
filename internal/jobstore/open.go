package jobstore

import (
	"errors"
	"strings"

	"caprun/internal/eventbus"
	logx "caprun/pkg/logx"
)

// Open initializes the configured store. bus may be nil; enqueues then skip
// the wake notification and rely on the poller alone.
func Open(cfg Config, bus eventbus.Bus, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return newMemory(bus), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, bus, log)
	default:
		return nil, errors.New("jobstore: unknown driver: " + driver)
	}
}

func notifyEnqueued(bus eventbus.Bus, queue string) {
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Notification{Topic: eventbus.TopicJobEnqueued, Queue: queue})
}
