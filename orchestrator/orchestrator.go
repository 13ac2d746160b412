package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nomis52/flowmaster/audit"
	"github.com/nomis52/flowmaster/engine"
	"github.com/nomis52/flowmaster/flow"
	"github.com/nomis52/flowmaster/flowtype"
	"github.com/nomis52/flowmaster/logging"
	"github.com/nomis52/flowmaster/performance"
	"github.com/nomis52/flowmaster/retry"
	"github.com/nomis52/flowmaster/store"
	"github.com/nomis52/flowmaster/validation"
)

const (
	// DefaultPhaseTimeout bounds each task attempt when neither the phase
	// nor WithDefaultPhaseTimeout sets a limit.
	DefaultPhaseTimeout = 120 * time.Second
	// DefaultLeaseGrace is added to the retry budget when sizing a lease.
	DefaultLeaseGrace = 30 * time.Second

	// maxConflictRetries bounds re-reads after a version conflict.
	maxConflictRetries = 5
	// persistTimeout bounds writes made after the caller's context is done.
	persistTimeout = 10 * time.Second
)

// Operation types used for tracking and audit entries.
const (
	OpCreateFlow     = "create_flow"
	OpExecutePhase   = "execute_phase"
	OpPauseFlow      = "pause_flow"
	OpResumeFlow     = "resume_flow"
	OpRetryFlow      = "retry_flow"
	OpDeleteFlow     = "delete_flow"
	OpGetFlowStatus  = "get_flow_status"
	OpGetActiveFlows = "get_active_flows"
)

// AuditRecorder receives one entry per orchestrator operation. *audit.Log
// implements it.
type AuditRecorder interface {
	Record(e audit.Entry) audit.Entry
}

// Orchestrator drives flows through their phases. It holds no per-flow state:
// everything lives in the store, so any number of orchestrators (in one
// process or many) may share a store.
type Orchestrator struct {
	store      store.Store
	types      *flowtype.Registry
	validators *validation.Registry
	engine     engine.TaskEngine

	logger       *slog.Logger
	hook         logging.LoggerHook
	tracker      performance.Recorder
	audit        AuditRecorder
	policy       retry.Policy
	classifier   retry.Classifier
	phaseTimeout time.Duration
	leaseGrace   time.Duration
	now          func() time.Time
	owner        string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger for the orchestrator
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithLogHook sets how per-flow loggers are derived. Use a
// logging.CapturingLoggerHook to include captured logs in detailed status.
func WithLogHook(hook logging.LoggerHook) Option {
	return func(o *Orchestrator) {
		o.hook = hook
	}
}

// WithTracker sets the performance recorder. The default records nothing.
func WithTracker(r performance.Recorder) Option {
	return func(o *Orchestrator) {
		o.tracker = r
	}
}

// WithAuditLog sets where audit entries go. The default is an in-memory
// audit.Log of audit.DefaultCapacity entries.
func WithAuditLog(a AuditRecorder) Option {
	return func(o *Orchestrator) {
		o.audit = a
	}
}

// WithRetryPolicy sets how task engine calls are retried. The policy's
// AttemptTimeout is replaced per phase.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithClassifier sets which task errors are retried.
func WithClassifier(c retry.Classifier) Option {
	return func(o *Orchestrator) {
		o.classifier = c
	}
}

// WithDefaultPhaseTimeout bounds attempts of phases without their own timeout.
// Values of zero or less are ignored.
func WithDefaultPhaseTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.phaseTimeout = d
		}
	}
}

// WithLeaseGrace sets the slack added to an execution lease.
func WithLeaseGrace(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.leaseGrace = d
	}
}

// WithClock replaces time.Now for record timestamps and lease expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an orchestrator over the given collaborators.
func New(s store.Store, types *flowtype.Registry, validators *validation.Registry, eng engine.TaskEngine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        s,
		types:        types,
		validators:   validators,
		engine:       eng,
		logger:       slog.Default(),
		hook:         logging.TaggingHook{},
		tracker:      performance.Nop(),
		policy:       retry.DefaultPolicy(),
		classifier:   retry.DefaultClassifier,
		phaseTimeout: DefaultPhaseTimeout,
		leaseGrace:   DefaultLeaseGrace,
		now:          time.Now,
		owner:        uuid.NewString(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "orchestrator")
	if o.audit == nil {
		o.audit = audit.New(audit.DefaultCapacity, audit.WithLogger(o.logger))
	}
	if o.validators == nil {
		o.validators = validation.NewDefaultRegistry()
	}
	return o
}

// call tracks one public operation from start to its single audit entry.
type call struct {
	o       *Orchestrator
	op      string
	scope   flow.Scope
	flowID  string
	trackID string
	detail  map[string]any
}

func (o *Orchestrator) begin(op string, scope flow.Scope, flowID string) *call {
	meta := map[string]any{"client_account_id": scope.ClientAccountID}
	if flowID != "" {
		meta["flow_id"] = flowID
	}
	return &call{
		o:       o,
		op:      op,
		scope:   scope,
		flowID:  flowID,
		trackID: o.tracker.Start(op, meta),
		detail:  make(map[string]any),
	}
}

// finish ends tracking and writes the audit entry. It must run exactly once
// per operation, before the error reaches the caller.
func (c *call) finish(err error) {
	result := c.detail
	if err != nil {
		c.detail["error_kind"] = kind(err)
	}
	c.o.tracker.End(c.trackID, err == nil, err, result)

	e := audit.Entry{
		OperationType:   c.op,
		FlowID:          c.flowID,
		Actor:           c.scope.Actor(),
		ClientAccountID: c.scope.ClientAccountID,
		EngagementID:    c.scope.EngagementID,
		Success:         err == nil,
		Detail:          c.detail,
	}
	if err != nil {
		e.Error = err.Error()
	}
	c.o.audit.Record(e)
}

func (o *Orchestrator) flowLogger(flowID string) *slog.Logger {
	return o.hook.LoggerForFlow(o.logger, flowID)
}

func checkScope(scope flow.Scope) error {
	if err := scope.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}
	return nil
}

// load reads a flow the scope's tenant owns.
func (o *Orchestrator) load(ctx context.Context, scope flow.Scope, flowID string) (*flow.Flow, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}
	f, err := o.store.Get(ctx, flowID)
	if err != nil {
		return nil, o.storeError("get", flowID, err)
	}
	if !scope.Owns(&f.Master) {
		return nil, fmt.Errorf("%w: %s", ErrFlowNotFound, flowID)
	}
	return f, nil
}

func (o *Orchestrator) storeError(op, flowID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, flowID)
	}
	return &PersistenceError{Op: op + " flow " + flowID, Err: err}
}

// update applies mutate to f and writes it. On a version conflict the flow
// is re-read and mutate applied again to the fresh copy, so mutate must
// derive everything from the flow it is given and re-check any state guard.
// A mutate returning errAlreadyApplied ends the loop with the flow as read.
func (o *Orchestrator) update(ctx context.Context, f *flow.Flow, mutate func(f *flow.Flow) error) (*flow.Flow, error) {
	id := f.ID()
	for attempt := 0; ; attempt++ {
		if err := mutate(f); err != nil {
			if errors.Is(err, errAlreadyApplied) {
				return f, nil
			}
			return nil, err
		}
		err := o.store.Update(ctx, f)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) || attempt >= maxConflictRetries {
			return nil, o.storeError("update", id, err)
		}
		o.logger.Debug("version conflict, re-reading flow", "flow_id", id, "attempt", attempt+1)
		if f, err = o.store.Get(ctx, id); err != nil {
			return nil, o.storeError("get", id, err)
		}
	}
}

func (o *Orchestrator) flowConfig(name string) (*flowtype.FlowConfig, error) {
	cfg, err := o.types.Config(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlowType, name)
	}
	return cfg, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
