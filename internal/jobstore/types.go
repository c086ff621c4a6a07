package jobstore

import (
	"context"
	"errors"
	"time"

	"caprun/internal/jobs"
)

var (
	ErrDisabled = errors.New("jobstore: disabled")
	ErrNotFound = errors.New("jobstore: job not found")
)

// Config configures the job store.
//
// Driver values:
//   - "memory": in-process queue, lost on restart (tests, ephemeral runners)
//   - "sqlite": SQLite database file
//
// If Driver is empty, "memory" is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the queue-shaped persistence API the runtime executes against.
//
// Claim hands out each pending job at most once; a claimed job is invisible
// to other claimers until Complete records its outcome.
type Store interface {
	// Enqueue persists the job and publishes a wake notification on the bus.
	Enqueue(ctx context.Context, job jobs.Job) error

	// Claim takes the oldest pending job on the queue. ok is false when the
	// queue is empty.
	Claim(ctx context.Context, queue string) (job jobs.Job, ok bool, err error)

	// Complete records the outcome of a claimed job.
	Complete(ctx context.Context, id string, jobErr error) error

	// Pending reports the number of unclaimed jobs on the queue. An empty
	// queue name counts across all queues.
	Pending(ctx context.Context, queue string) (int, error)

	// Queues lists queues that currently hold pending jobs.
	Queues(ctx context.Context) ([]string, error)

	Close() error
}
