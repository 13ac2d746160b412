// Package validation provides named validators that guard phase execution.
//
// Validators are registered by name at startup and referenced by name from
// flow type definitions. Before a phase runs, the orchestrator evaluates every
// validator listed on the phase against the phase input and the current
// child record. Any reported error blocks the phase; warnings are recorded but
// do not block.
package validation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nomis52/flowmaster/flow"
	"github.com/nomis52/flowmaster/flowtype"
)

// ErrUnknownValidator is returned when a phase references an unregistered validator.
var ErrUnknownValidator = errors.New("unknown validator")

// Input is what a validator inspects.
type Input struct {
	FlowType   *flowtype.FlowConfig
	Phase      flowtype.PhaseConfig
	PhaseInput map[string]any
	Child      flow.Child
}

// Result is the outcome of one or more validators.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Valid returns a passing result.
func Valid() Result {
	return Result{Valid: true}
}

// Invalid returns a failing result with the given errors.
func Invalid(errs ...string) Result {
	return Result{Valid: false, Errors: errs}
}

// merge folds other into r.
func (r *Result) merge(name string, other Result) {
	if !other.Valid {
		r.Valid = false
		if len(other.Errors) == 0 {
			r.Errors = append(r.Errors, fmt.Sprintf("%s: validation failed", name))
		}
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Validator checks phase input before a phase is executed.
type Validator func(ctx context.Context, in Input) Result

// Registry holds validators by name.
type Registry struct {
	mu         sync.RWMutex
	validators map[string]Validator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{validators: make(map[string]Validator)}
}

// NewDefaultRegistry creates a registry with the built-in validators.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for name, v := range Builtins() {
		// Builtins have unique names.
		_ = r.Register(name, v)
	}
	return r
}

// Register adds a validator. Names must be unique.
func (r *Registry) Register(name string, v Validator) error {
	if name == "" {
		return fmt.Errorf("validator name is required")
	}
	if v == nil {
		return fmt.Errorf("validator %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.validators[name]; exists {
		return fmt.Errorf("validator %q already registered", name)
	}
	r.validators[name] = v
	return nil
}

// Get returns the named validator.
func (r *Registry) Get(name string) (Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.validators[name]
	return v, ok
}

// Names returns the registered validator names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.validators))
	for name := range r.validators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check returns an error naming every validator in names that is not registered.
func (r *Registry) Check(names []string) error {
	var errs []error
	for _, name := range names {
		if _, ok := r.Get(name); !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownValidator, name))
		}
	}
	return errors.Join(errs...)
}

// Validate runs the named validators in order and merges their results.
// All validators run even if an earlier one fails so the caller sees every
// problem at once.
func (r *Registry) Validate(ctx context.Context, names []string, in Input) (Result, error) {
	if err := r.Check(names); err != nil {
		return Result{}, err
	}

	result := Valid()
	for _, name := range names {
		v, _ := r.Get(name)
		result.merge(name, v(ctx, in))
	}
	return result, nil
}
