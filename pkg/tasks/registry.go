package tasks

import (
	"context"
	"sync"

	"github.com/bibliograph/bibliograph/pkg/models"
	"github.com/pkg/errors"
)

// ProgressReporter lets a handler surface progress in [0,1] while it runs.
type ProgressReporter func(progress float64)

// HandlerFunc executes one task. The cancel func reports whether a durable
// cancellation request has been observed; handlers poll it between units of
// work and return ErrTaskCancelled to stop.
type HandlerFunc func(ctx context.Context, task *models.Task, report ProgressReporter, cancelled func() bool) error

// ErrTaskCancelled is returned by handlers that stopped because of a
// cancellation request. The executor finalizes such tasks as cancelled, not
// failed.
var ErrTaskCancelled = errors.New("task cancelled")

// Registry maps task types to handlers. It is built at startup and injected
// wherever tasks are executed; nothing registers into a global.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]HandlerFunc{}}
}

func (r *Registry) Register(taskType string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = handler
}

func (r *Registry) Handler(taskType string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[taskType]
	if !ok {
		return nil, errors.Errorf("no handler registered for task type %q", taskType)
	}
	return handler, nil
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for taskType := range r.handlers {
		types = append(types, taskType)
	}
	return types
}
