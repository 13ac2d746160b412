package orchestrator

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"

	"github.com/nomis52/flowmaster/flow"
)

// CreateRequest describes a new flow.
type CreateRequest struct {
	FlowType string
	// FlowName defaults to "<flow type>-<first 8 chars of the id>".
	FlowName      string
	Configuration map[string]any
	// InitialState seeds the child record's State.
	InitialState map[string]any
}

// CreateFlow writes the master and child records of a new flow in a single
// store write and returns its summary.
func (o *Orchestrator) CreateFlow(ctx context.Context, scope flow.Scope, req CreateRequest) (summary *Summary, err error) {
	c := o.begin(OpCreateFlow, scope, "")
	c.detail["flow_type"] = req.FlowType
	defer func() { c.finish(err) }()

	if err := checkScope(scope); err != nil {
		return nil, err
	}
	cfg, err := o.flowConfig(req.FlowType)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	c.flowID = id
	name := req.FlowName
	if name == "" {
		name = fmt.Sprintf("%s-%s", req.FlowType, id[:8])
	}

	now := o.now()
	first := cfg.FirstPhase()
	next, _ := cfg.NextPhase(first)
	f := &flow.Flow{
		Master: flow.Master{
			FlowID:              id,
			FlowType:            cfg.Name(),
			FlowName:            name,
			Scope:               scope,
			Status:              flow.StatusInitialized,
			Configuration:       maps.Clone(req.Configuration),
			PhaseExecutionTimes: make(map[string]flow.PhaseTiming),
			PerformanceMetrics:  make(map[string]float64),
			CreatedAt:           now,
		},
		Child: flow.Child{
			FlowID:       id,
			CurrentPhase: first,
			NextPhase:    next,
			Status:       flow.ChildInitialized,
			PhaseResults: make(map[string]map[string]any),
			State:        maps.Clone(req.InitialState),
		},
	}
	f.Master.AppendLog(flow.LogEntry{At: now, Actor: scope.Actor(), Action: "created", Detail: name})

	if err := o.store.Create(ctx, f); err != nil {
		return nil, o.storeError("create", id, err)
	}

	o.flowLogger(id).Info("flow created", "flow_type", cfg.Name(), "flow_name", name, "first_phase", first)
	return summarize(f, nil), nil
}
