package capsule

import (
	"errors"
	"sync"

	"caprun/internal/lifecycle"
)

// Default is the process-wide registry used when Deps.Registry is nil.
var Default = NewRegistry()

// Registry is an append-only list of constructed capsules, held as non-owning
// references for enumeration and process-wide teardown. Capsules are never
// removed; a shut-down capsule simply stays listed as not running.
type Registry struct {
	mu       sync.Mutex
	capsules []*Capsule
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) register(c *Capsule) {
	r.mu.Lock()
	r.capsules = append(r.capsules, c)
	r.mu.Unlock()
}

// List returns a snapshot in registration order.
func (r *Registry) List() []*Capsule {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Capsule(nil), r.capsules...)
}

// Len reports how many capsules have been constructed.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.capsules)
}

// ShutdownAll shuts down every registered capsule with the same timeout,
// joining any errors. Already-stopped capsules are no-ops.
func (r *Registry) ShutdownAll(t lifecycle.Timeout) error {
	var errs []error
	for _, c := range r.List() {
		if err := c.Shutdown(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
