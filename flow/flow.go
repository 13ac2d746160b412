// Package flow defines the persisted records that make up a flow.
//
// A flow is stored as two records that always travel together:
//
//   - Master holds the coarse lifecycle (may the flow be acted upon?).
//   - Child holds operational truth (which phase, how far along, what happened).
//
// The two records are linked by FlowID. Whenever the child reaches a terminal
// operational status the master must be moved to the matching coarse status
// in the same store write; SyncTerminal performs that step and Consistent
// checks it.
package flow

import (
	"fmt"
	"time"
)

// Status is the coarse lifecycle state held on the master record.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusPaused      Status = "paused"
	StatusResumed     Status = "resumed"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusDeleted     Status = "deleted"
)

// Fine-grained child statuses that have a coarse counterpart.
const (
	ChildInitialized = "initialized"
	ChildPaused      = "paused"
	ChildResumed     = "resumed"
	ChildCompleted   = "completed"
	ChildFailed      = "failed"
	ChildCancelled   = "cancelled"
)

// ActiveStatuses lists the statuses of flows that have not terminated.
var ActiveStatuses = []Status{StatusInitialized, StatusRunning, StatusPaused, StatusResumed}

// String returns the status as a plain string.
func (s Status) String() string {
	return string(s)
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	switch s {
	case StatusInitialized, StatusRunning, StatusPaused, StatusResumed,
		StatusCompleted, StatusFailed, StatusDeleted:
		return true
	}
	return false
}

// IsActive reports whether the flow is still in a non-terminal state.
func (s Status) IsActive() bool {
	switch s {
	case StatusInitialized, StatusRunning, StatusPaused, StatusResumed:
		return true
	}
	return false
}

// Scope identifies the tenant a flow belongs to and the user acting on it.
// Every orchestrator operation is evaluated within a Scope and never sees
// flows of another client account or engagement.
type Scope struct {
	ClientAccountID string `json:"client_account_id" yaml:"client_account_id"`
	EngagementID    string `json:"engagement_id" yaml:"engagement_id"`
	UserID          string `json:"user_id,omitempty" yaml:"user_id"`
}

// Validate checks that the tenant identifiers are present.
func (s Scope) Validate() error {
	if s.ClientAccountID == "" {
		return fmt.Errorf("client account id is required")
	}
	if s.EngagementID == "" {
		return fmt.Errorf("engagement id is required")
	}
	return nil
}

// Owns reports whether the scope's tenant owns the given master record.
func (s Scope) Owns(m *Master) bool {
	return m.Scope.ClientAccountID == s.ClientAccountID && m.Scope.EngagementID == s.EngagementID
}

// Actor returns the identity recorded in logs and audit entries.
func (s Scope) Actor() string {
	if s.UserID == "" {
		return "system"
	}
	return s.UserID
}

// Lease marks a phase execution in progress. Only one lease may be live per
// flow; a lease past ExpiresAt is considered abandoned and may be taken over.
type Lease struct {
	Phase      string    `json:"phase"`
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Live reports whether the lease still blocks other executions at time now.
func (l *Lease) Live(now time.Time) bool {
	return l != nil && now.Before(l.ExpiresAt)
}

// PersistenceData holds what is needed to resume a flow after interruption.
type PersistenceData struct {
	LastCompletedPhase string         `json:"last_completed_phase,omitempty"`
	CompletedPhases    []string       `json:"completed_phases,omitempty"`
	PauseReason        string         `json:"pause_reason,omitempty"`
	PausedAt           *time.Time     `json:"paused_at,omitempty"`
	ResumeContext      map[string]any `json:"resume_context,omitempty"`
	ResumedAt          *time.Time     `json:"resumed_at,omitempty"`
	ResumePhase        string         `json:"resume_phase,omitempty"`
	DeleteReason       string         `json:"delete_reason,omitempty"`
	DeletedAt          *time.Time     `json:"deleted_at,omitempty"`
	Execution          *Lease         `json:"execution,omitempty"`
	// LastExecution is the owner of the most recently released lease.
	LastExecution      string         `json:"last_execution,omitempty"`
}

// PhaseTiming records the most recent execution of a phase.
type PhaseTiming struct {
	Attempts    int       `json:"attempts"`
	DurationMS  int64     `json:"duration_ms"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// LogEntry is one line of the collaboration log.
type LogEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Phase  string    `json:"phase,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Master is the coarse lifecycle record. It is the single source of truth for
// whether a flow may be acted upon.
type Master struct {
	FlowID              string                 `json:"flow_id"`
	FlowType            string                 `json:"flow_type"`
	FlowName            string                 `json:"flow_name"`
	Scope               Scope                  `json:"scope"`
	Status              Status                 `json:"flow_status"`
	Configuration       map[string]any         `json:"configuration,omitempty"`
	PersistenceData     PersistenceData        `json:"persistence_data"`
	PhaseExecutionTimes map[string]PhaseTiming `json:"phase_execution_times,omitempty"`
	PerformanceMetrics  map[string]float64     `json:"performance_metrics,omitempty"`
	CollaborationLog    []LogEntry             `json:"collaboration_log,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	UpdatedAt           time.Time              `json:"updated_at"`
	Version             int64                  `json:"version"`
}

// PausePoint records where and why a flow was paused.
type PausePoint struct {
	Phase  string    `json:"phase"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Issue is an error or warning surfaced on the child record.
type Issue struct {
	Phase   string    `json:"phase,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Child is the operational record. It is the single source of truth for what
// the flow is doing.
type Child struct {
	FlowID       string                    `json:"flow_id"`
	CurrentPhase string                    `json:"current_phase"`
	NextPhase    string                    `json:"next_phase,omitempty"`
	Progress     int                       `json:"progress"`
	Status       string                    `json:"status"`
	PhaseResults map[string]map[string]any `json:"phase_results,omitempty"`
	PausePoints  []PausePoint              `json:"pause_points,omitempty"`
	Errors       []Issue                   `json:"errors,omitempty"`
	Warnings     []Issue                   `json:"warnings,omitempty"`
	State        map[string]any            `json:"state,omitempty"`
}

// Flow is the master/child pair as read from and written to a store.
type Flow struct {
	Master Master `json:"master"`
	Child  Child  `json:"child"`
}

// ID returns the flow identifier.
func (f *Flow) ID() string {
	return f.Master.FlowID
}

// terminalChild maps terminal child statuses to their coarse counterparts.
var terminalChild = map[string]Status{
	ChildCompleted: StatusCompleted,
	ChildFailed:    StatusFailed,
	ChildCancelled: StatusDeleted,
}

// IsTerminalChildStatus reports whether a child status is terminal.
func IsTerminalChildStatus(status string) bool {
	_, ok := terminalChild[status]
	return ok
}

// SyncTerminal moves the master to the coarse status that matches a terminal
// child status. It is a no-op for non-terminal child statuses.
func SyncTerminal(f *Flow) {
	if coarse, ok := terminalChild[f.Child.Status]; ok {
		f.Master.Status = coarse
	}
}

// Consistent returns an error if the child is terminal but the master does
// not carry the matching coarse status.
func Consistent(f *Flow) error {
	coarse, ok := terminalChild[f.Child.Status]
	if !ok {
		return nil
	}
	if f.Master.Status != coarse {
		return fmt.Errorf("flow %s: child status %q requires master status %q, got %q",
			f.Master.FlowID, f.Child.Status, coarse, f.Master.Status)
	}
	return nil
}

// AppendLog adds an entry to the collaboration log.
func (m *Master) AppendLog(entry LogEntry) {
	m.CollaborationLog = append(m.CollaborationLog, entry)
}
