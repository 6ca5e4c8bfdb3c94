package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/dispatch-backend/internal/types"
)

/*
The handler registry is the dispatch table for the job execution system.

The registry is the only place where job type -> code binding happens.
Workers do not know about handlers directly; they ask the registry for the
handler that claims responsibility for a given type. Registration happens at
process startup; lookups happen concurrently from worker slots.
*/

// Handler is the contract user code implements per job type.
//
// Run receives a snapshot of the job row and returns either a structured
// result (anything that round-trips through JSON) or an error. Handlers may
// run for long periods; the worker never interrupts them. Handlers must
// tolerate re-execution: the system is at-least-once.
type Handler interface {
	Type() string
	Run(ctx context.Context, job *types.Job) (any, error)
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc struct {
	JobType string
	Fn      func(ctx context.Context, job *types.Job) (any, error)
}

func (h HandlerFunc) Type() string { return h.JobType }
func (h HandlerFunc) Run(ctx context.Context, job *types.Job) (any, error) {
	return h.Fn(ctx, job)
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Duplicate registration for a type is a wiring
// error and fails fast at startup rather than silently picking one.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler")
	}
	t := h.Type()
	if t == "" {
		return fmt.Errorf("handler Type() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler already registered for job_type=%s", t)
	}
	r.handlers[t] = h
	return nil
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
