package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nomis52/flowmaster/flow"
	"github.com/nomis52/flowmaster/flowtype"
)

var (
	// ErrUnknownFlowType is returned when a flow type is not registered.
	ErrUnknownFlowType = flowtype.ErrUnknownFlowType
	// ErrUnknownPhase is returned when a phase is not part of the flow's type.
	ErrUnknownPhase = errors.New("unknown phase")
	// ErrFlowNotFound is returned for missing flows and for flows owned by
	// another tenant.
	ErrFlowNotFound = errors.New("flow not found")
	// ErrInvalidScope is returned when the caller's scope lacks tenant ids.
	ErrInvalidScope = errors.New("invalid scope")
	// ErrInvalidState is matched by *InvalidStateError.
	ErrInvalidState = errors.New("invalid flow state")
	// ErrValidationFailed is matched by *ValidationError.
	ErrValidationFailed = errors.New("phase input validation failed")
	// ErrExecution is matched by *ExecutionError.
	ErrExecution = errors.New("phase execution failed")
	// ErrPersistence is matched by *PersistenceError.
	ErrPersistence = errors.New("flow persistence failed")
)

// InvalidStateError reports an operation the flow's status does not permit.
type InvalidStateError struct {
	FlowID    string
	Current   flow.Status
	Attempted string
	Reason    string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("flow %s: cannot %s while %s", e.FlowID, e.Attempted, e.Current)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ValidationError lists why phase input was rejected.
type ValidationError struct {
	Phase    string
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("phase %s: validation failed: %s", e.Phase, strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// ExecutionError is returned once a phase has failed terminally and the
// failure has been persisted. Err is the task engine's last error.
type ExecutionError struct {
	Phase    string
	Attempts int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("phase %s failed after %d attempt(s): %v", e.Phase, e.Attempts, e.Err)
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// kind names an error for audit entries and metrics.
func kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownFlowType):
		return "unknown_flow_type"
	case errors.Is(err, ErrUnknownPhase):
		return "unknown_phase"
	case errors.Is(err, ErrFlowNotFound):
		return "flow_not_found"
	case errors.Is(err, ErrInvalidScope):
		return "invalid_scope"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrExecution):
		return "execution_error"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	default:
		return "error"
	}
}
