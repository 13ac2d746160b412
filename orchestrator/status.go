package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/nomis52/flowmaster/flow"
	"github.com/nomis52/flowmaster/flowtype"
	"github.com/nomis52/flowmaster/logging"
	"github.com/nomis52/flowmaster/store"
)

// Summary is the caller-facing view of a flow.
type Summary struct {
	FlowID       string      `json:"flow_id"`
	FlowType     string      `json:"flow_type"`
	FlowName     string      `json:"flow_name"`
	Status       flow.Status `json:"flow_status"`
	ChildStatus  string      `json:"status"`
	CurrentPhase string      `json:"current_phase"`
	NextPhase    string      `json:"next_phase,omitempty"`
	Progress     int         `json:"progress"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Version      int64       `json:"version"`
	Details      *Details    `json:"details,omitempty"`
}

// PhaseStatus marks a phase of the flow's type.
type PhaseStatus struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
	Current     bool   `json:"current"`
}

// Performance summarizes how long the flow's phases took.
type Performance struct {
	PhaseTimings map[string]flow.PhaseTiming `json:"phase_timings,omitempty"`
	Metrics      map[string]float64          `json:"metrics,omitempty"`
}

// Details is the extended view returned when details are requested.
type Details struct {
	Configuration    map[string]any       `json:"configuration,omitempty"`
	Phases           []PhaseStatus        `json:"phases"`
	Performance      Performance          `json:"performance"`
	CollaborationLog []flow.LogEntry      `json:"collaboration_log,omitempty"`
	Errors           []flow.Issue         `json:"errors,omitempty"`
	Warnings         []flow.Issue         `json:"warnings,omitempty"`
	PausePoints      []flow.PausePoint    `json:"pause_points,omitempty"`
	PersistenceData  flow.PersistenceData `json:"persistence_data"`
	Logs             []logging.LogEntry   `json:"logs,omitempty"`
}

func summarize(f *flow.Flow, details *Details) *Summary {
	return &Summary{
		FlowID:       f.Master.FlowID,
		FlowType:     f.Master.FlowType,
		FlowName:     f.Master.FlowName,
		Status:       f.Master.Status,
		ChildStatus:  f.Child.Status,
		CurrentPhase: f.Child.CurrentPhase,
		NextPhase:    f.Child.NextPhase,
		Progress:     f.Child.Progress,
		CreatedAt:    f.Master.CreatedAt,
		UpdatedAt:    f.Master.UpdatedAt,
		Version:      f.Master.Version,
		Details:      details,
	}
}

func (o *Orchestrator) details(f *flow.Flow) *Details {
	d := &Details{
		Configuration: f.Master.Configuration,
		Performance: Performance{
			PhaseTimings: f.Master.PhaseExecutionTimes,
			Metrics:      f.Master.PerformanceMetrics,
		},
		CollaborationLog: f.Master.CollaborationLog,
		Errors:           f.Child.Errors,
		Warnings:         f.Child.Warnings,
		PausePoints:      f.Child.PausePoints,
		PersistenceData:  f.Master.PersistenceData,
	}
	// The flow type may have been removed from the registry since the flow
	// was created; the rest of the details still apply.
	if cfg, err := o.types.Config(f.Master.FlowType); err == nil {
		d.Phases = phaseStatuses(cfg, f)
	}
	if hook, ok := o.hook.(*logging.CapturingLoggerHook); ok {
		d.Logs = hook.Collector().Logs(f.ID())
	}
	return d
}

func phaseStatuses(cfg *flowtype.FlowConfig, f *flow.Flow) []PhaseStatus {
	done := f.Master.PersistenceData.CompletedPhases
	active := f.Master.Status.IsActive()
	out := make([]PhaseStatus, 0, len(cfg.Phases()))
	for _, p := range cfg.Phases() {
		out = append(out, PhaseStatus{
			Name:        p.Name,
			Description: p.Description,
			Completed:   slices.Contains(done, p.Name),
			Current:     active && p.Name == f.Child.CurrentPhase,
		})
	}
	return out
}

// GetFlowStatus returns the flow's summary, with details when requested.
// Deleted flows that were soft deleted remain readable.
func (o *Orchestrator) GetFlowStatus(ctx context.Context, scope flow.Scope, flowID string, includeDetails bool) (summary *Summary, err error) {
	c := o.begin(OpGetFlowStatus, scope, flowID)
	c.detail["include_details"] = includeDetails
	defer func() { c.finish(err) }()

	f, err := o.load(ctx, scope, flowID)
	if err != nil {
		return nil, err
	}
	c.detail["status"] = f.Master.Status.String()

	var d *Details
	if includeDetails {
		d = o.details(f)
	}
	return summarize(f, d), nil
}

// GetActiveFlows lists the scope's flows that have not terminated, oldest
// first. An empty flowType matches every type; limit <= 0 means no limit.
func (o *Orchestrator) GetActiveFlows(ctx context.Context, scope flow.Scope, flowType string, limit int) (flows []*Summary, err error) {
	c := o.begin(OpGetActiveFlows, scope, "")
	if flowType != "" {
		c.detail["flow_type"] = flowType
	}
	defer func() { c.finish(err) }()

	if err := checkScope(scope); err != nil {
		return nil, err
	}
	if flowType != "" && !o.types.IsRegistered(flowType) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlowType, flowType)
	}

	list, err := o.store.List(ctx, store.Filter{
		ClientAccountID: scope.ClientAccountID,
		EngagementID:    scope.EngagementID,
		FlowType:        flowType,
		Statuses:        flow.ActiveStatuses,
		Limit:           limit,
	})
	if err != nil {
		return nil, &PersistenceError{Op: "list active flows", Err: err}
	}

	flows = make([]*Summary, 0, len(list))
	for _, f := range list {
		flows = append(flows, summarize(f, nil))
	}
	c.detail["count"] = len(flows)
	return flows, nil
}
