// Package worker runs registered job handlers against the scheduler's worker
// interface.
package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openjobspec/ojs-scheduler/internal/core"
)

// JobHandler executes one occurrence of a job. Occurrences can be delivered more
// than once, so handlers must be idempotent when exactly-once effects matter.
type JobHandler interface {
	Execute(ctx context.Context, job *core.JobDetails) error
}

// HandlerFunc adapts a function to JobHandler.
type HandlerFunc func(ctx context.Context, job *core.JobDetails) error

func (f HandlerFunc) Execute(ctx context.Context, job *core.JobDetails) error {
	return f(ctx, job)
}

// Registry maps job types to handlers. It is built at startup and read by runners.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]JobHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]JobHandler)}
}

// Register binds a handler to a job type. A type can only be registered once.
func (r *Registry) Register(jobType string, h JobHandler) error {
	if err := core.ValidateJobType(jobType); err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("handler for %s must not be nil", jobType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler for %s already registered", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Lookup returns the handler for a job type.
func (r *Registry) Lookup(jobType string) (JobHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
