// Package executor routes catalog actions to the backends that perform them.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Sentinel-Gate/infragate/internal/port/outbound"
)

// Router dispatches each action to the executor registered for it. It is
// the innermost hop between the gateway and the infrastructure backends.
type Router struct {
	mu     sync.RWMutex
	routes map[string]outbound.Executor
	logger *slog.Logger
}

var _ outbound.Executor = (*Router)(nil)

// NewRouter creates an empty Router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		routes: make(map[string]outbound.Executor),
		logger: logger,
	}
}

// Register routes actions to exec. Registering an action twice is an error.
func (r *Router) Register(exec outbound.Executor, actions ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range actions {
		if _, dup := r.routes[a]; dup {
			return fmt.Errorf("action %q already routed", a)
		}
	}
	for _, a := range actions {
		r.routes[a] = exec
	}
	return nil
}

// Execute implements outbound.Executor.
func (r *Router) Execute(ctx context.Context, action string, args map[string]any) (any, error) {
	r.mu.RLock()
	exec, ok := r.routes[action]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("no executor for action", "action", action)
		return nil, fmt.Errorf("%w: %s", outbound.ErrUnsupportedAction, action)
	}
	r.logger.Debug("routing action", "action", action, "executor", fmt.Sprintf("%T", exec))
	return exec.Execute(ctx, action, args)
}

// Actions returns the routed action names, sorted.
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.routes))
	for a := range r.routes {
		names = append(names, a)
	}
	sort.Strings(names)
	return names
}
