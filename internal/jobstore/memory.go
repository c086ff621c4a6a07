package jobstore

import (
	"context"
	"sort"
	"sync"

	"caprun/internal/eventbus"
	"caprun/internal/jobs"
)

// memoryStore keeps per-queue FIFO lists. It exists for tests and ephemeral
// runners; durability comes from the sqlite driver.
type memoryStore struct {
	bus eventbus.Bus

	mu      sync.Mutex
	pending map[string][]jobs.Job
	claimed map[string]jobs.Job
	closed  bool
}

func newMemory(bus eventbus.Bus) *memoryStore {
	return &memoryStore{
		bus:     bus,
		pending: map[string][]jobs.Job{},
		claimed: map[string]jobs.Job{},
	}
}

func (s *memoryStore) Enqueue(ctx context.Context, job jobs.Job) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrDisabled
	}
	s.pending[job.Queue] = append(s.pending[job.Queue], job)
	s.mu.Unlock()

	notifyEnqueued(s.bus, job.Queue)
	return nil
}

func (s *memoryStore) Claim(ctx context.Context, queue string) (jobs.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return jobs.Job{}, false, ErrDisabled
	}
	q := s.pending[queue]
	if len(q) == 0 {
		return jobs.Job{}, false, nil
	}
	job := q[0]
	s.pending[queue] = q[1:]
	s.claimed[job.ID] = job
	return job, true, nil
}

func (s *memoryStore) Complete(ctx context.Context, id string, jobErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	if _, ok := s.claimed[id]; !ok {
		return ErrNotFound
	}
	delete(s.claimed, id)
	return nil
}

func (s *memoryStore) Pending(ctx context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrDisabled
	}
	if queue != "" {
		return len(s.pending[queue]), nil
	}
	n := 0
	for _, q := range s.pending {
		n += len(q)
	}
	return n, nil
}

func (s *memoryStore) Queues(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrDisabled
	}
	out := make([]string, 0, len(s.pending))
	for name, q := range s.pending {
		if len(q) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
