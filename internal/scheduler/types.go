package scheduler

import (
	"context"
	"time"
)

// JobState is the wake hint passed to CreateThread. A nil JobState targets
// the first served queue; Queue selects one explicitly.
type JobState struct {
	Queue string

	// Count hints how many jobs were enqueued behind this wake; CreateThread
	// spawns up to that many threads on the queue, within the per-queue cap.
	Count int
}

// Stats is the scheduler's contribution to capsule statistics.
type Stats struct {
	// ActiveExecutionThreadCount is the number of live execution threads.
	ActiveExecutionThreadCount int

	// LastExecutedAt is the completion time of the most recently performed
	// job. Zero means no job has executed on this scheduler.
	LastExecutedAt time.Time
}

// Performer supplies the scheduler with work. Next claims and executes at
// most one job on the queue, reporting whether anything was performed.
type Performer interface {
	Next(ctx context.Context, queue string) (performed bool, err error)

	// Queues lists queues currently holding work; used to warm the queue
	// cache at construction.
	Queues(ctx context.Context) ([]string, error)
}
