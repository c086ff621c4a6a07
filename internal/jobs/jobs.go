// Package jobs defines the unit of work flowing through the runtime: a queued
// job record plus the process-local registry mapping job names to handlers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrUnknownJob = errors.New("jobs: no handler registered")

// DefaultQueue receives jobs enqueued without an explicit queue.
const DefaultQueue = "default"

// Job is one queued unit of work. Args is kept as raw JSON so the store can
// persist it without knowing handler argument shapes.
type Job struct {
	ID         string
	Queue      string
	Name       string
	Args       json.RawMessage
	EnqueuedAt time.Time
}

// New builds a job record with a fresh ID. args may be nil.
func New(queue, name string, args any) (Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Job{}, errors.New("jobs: name is required")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		queue = DefaultQueue
	}

	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return Job{}, fmt.Errorf("jobs: marshal args for %s: %w", name, err)
		}
		raw = b
	}

	return Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Name:       name,
		Args:       raw,
		EnqueuedAt: time.Now(),
	}, nil
}

// Handler executes one job. The context is canceled when the hosting
// execution thread is interrupted.
type Handler func(ctx context.Context, job Job) error

// Registry maps job names to handlers. Registration normally happens at boot,
// but the registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(name string, h Handler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("jobs: handler name is required")
	}
	if h == nil {
		return errors.New("jobs: handler is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[name]; dup {
		return fmt.Errorf("jobs: handler %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	return h, ok
}

// Perform dispatches the job to its registered handler.
func (r *Registry) Perform(ctx context.Context, job Job) error {
	h, ok := r.Lookup(job.Name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, job.Name)
	}
	return h(ctx, job)
}
