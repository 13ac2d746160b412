// Package engine defines how phases hand work to the task execution engine.
//
// The orchestrator treats the engine as stateless: each Run call receives the
// phase input and context and returns the phase results, or an error that the
// retry classifier will judge. Router dispatches Run calls to handlers named
// by the phase's task spec.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nomis52/flowmaster/flow"
	"github.com/nomis52/flowmaster/flowtype"
	"github.com/nomis52/flowmaster/retry"
)

// ErrNoHandler is returned when no handler is registered for a task.
var ErrNoHandler = errors.New("no task handler")

// TaskContext carries what a handler may need besides the phase input.
type TaskContext struct {
	FlowID   string
	FlowType string
	Scope    flow.Scope
	Task     flowtype.TaskSpec
	// Attempt is the 1-based attempt number under the retry policy.
	Attempt int
	Logger  *slog.Logger
	// PreviousResults holds the results of phases completed so far.
	PreviousResults map[string]map[string]any
}

// TaskEngine performs the domain work of a phase.
type TaskEngine interface {
	Run(ctx context.Context, phase string, input map[string]any, tc TaskContext) (map[string]any, error)
}

// Func adapts a function to TaskEngine.
type Func func(ctx context.Context, phase string, input map[string]any, tc TaskContext) (map[string]any, error)

// Run calls f.
func (f Func) Run(ctx context.Context, phase string, input map[string]any, tc TaskContext) (map[string]any, error) {
	return f(ctx, phase, input, tc)
}

// HandlerFunc performs one kind of task.
type HandlerFunc func(ctx context.Context, phase string, input map[string]any, tc TaskContext) (map[string]any, error)

// Router is a TaskEngine that dispatches on TaskContext.Task.Handler, falling
// back to a handler registered under the phase name.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// NewDefaultRouter creates a router with the built-in handlers registered.
func NewDefaultRouter() *Router {
	r := NewRouter()
	for name, h := range Builtins() {
		// Builtins has unique, non-empty names.
		_ = r.Register(name, h)
	}
	return r
}

// Register adds a handler. Names must be unique.
func (r *Router) Register(name string, h HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("handler name is required")
	}
	if h == nil {
		return fmt.Errorf("handler %s is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %s already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Names returns the registered handler names, sorted.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Router) lookup(phase string, tc TaskContext) (HandlerFunc, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name := tc.Task.Handler; name != "" {
		h, ok := r.handlers[name]
		return h, name, ok
	}
	h, ok := r.handlers[phase]
	return h, phase, ok
}

// Run dispatches to the task's handler. A missing handler is a permanent
// failure so it is never retried.
func (r *Router) Run(ctx context.Context, phase string, input map[string]any, tc TaskContext) (map[string]any, error) {
	h, name, ok := r.lookup(phase, tc)
	if !ok {
		return nil, retry.Permanent(fmt.Errorf("%w %q for phase %s", ErrNoHandler, name, phase))
	}
	if tc.Logger == nil {
		tc.Logger = slog.Default()
	}
	tc.Logger.Debug("running task", "handler", name, "phase", phase, "attempt", tc.Attempt)
	return h(ctx, phase, input, tc)
}
