// Package flowtype provides the catalog of flow types and their ordered phases.
//
// The catalog is assembled once at process start, from the built-in table
// and optionally a YAML file, and is read-only afterwards. Because nothing
// mutates a Registry after New returns, it can be shared by any number of
// concurrent flow executions without locking.
//
// Example:
//
//	reg, err := flowtype.New(flowtype.Builtin()...)
//	cfg, err := reg.Config("discovery")
//	next, ok := cfg.NextPhase("data_import") // "field_mapping", true
package flowtype

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownFlowType is returned when a flow type is not registered.
var ErrUnknownFlowType = errors.New("unknown flow type")

// TaskSpec describes the external work unit a phase triggers.
type TaskSpec struct {
	// Handler names the task engine handler that performs the work.
	Handler string `yaml:"handler" json:"handler"`
	// Params are static parameters passed to the handler.
	Params map[string]any `yaml:"params" json:"params,omitempty"`
}

// PhaseConfig describes one step of a flow type.
type PhaseConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description,omitempty"`
	Validators  []string `yaml:"validators" json:"validators,omitempty"`
	// Required lists JSON paths that must be present in the phase input.
	// Used by the required_fields validator.
	Required []string `yaml:"required" json:"required,omitempty"`
	Task     TaskSpec `yaml:"task" json:"task"`
	// Timeout bounds each attempt of the task. Zero means the orchestrator default.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	// RunningStatus is the child status shown while the phase executes.
	// Defaults to "<name>_in_progress".
	RunningStatus string `yaml:"running_status" json:"running_status,omitempty"`
}

// Status returns the child status to show while the phase runs.
func (p PhaseConfig) Status() string {
	if p.RunningStatus != "" {
		return p.RunningStatus
	}
	return p.Name + "_in_progress"
}

// CompletedStatus returns the child status recorded when the phase succeeds
// and later phases remain.
func (p PhaseConfig) CompletedStatus() string {
	return p.Name + "_completed"
}

// FlowType is the declarative definition of a flow type.
type FlowType struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Version     string        `yaml:"version"`
	Phases      []PhaseConfig `yaml:"phases"`
}

// FlowConfig is the resolved, immutable configuration of a flow type.
type FlowConfig struct {
	name        string
	description string
	version     string
	phases      []PhaseConfig
	index       map[string]int
}

// Name returns the flow type name.
func (c *FlowConfig) Name() string { return c.name }

// Description returns the flow type description.
func (c *FlowConfig) Description() string { return c.description }

// Version returns the flow type version.
func (c *FlowConfig) Version() string { return c.version }

// Phases returns a copy of the ordered phase list.
func (c *FlowConfig) Phases() []PhaseConfig {
	out := make([]PhaseConfig, len(c.phases))
	copy(out, c.phases)
	return out
}

// PhaseNames returns the ordered phase names.
func (c *FlowConfig) PhaseNames() []string {
	names := make([]string, len(c.phases))
	for i, p := range c.phases {
		names[i] = p.Name
	}
	return names
}

// Phase returns the configuration of the named phase.
func (c *FlowConfig) Phase(name string) (PhaseConfig, bool) {
	i, ok := c.index[name]
	if !ok {
		return PhaseConfig{}, false
	}
	return c.phases[i], true
}

// Index returns the position of the named phase, or -1.
func (c *FlowConfig) Index(name string) int {
	if i, ok := c.index[name]; ok {
		return i
	}
	return -1
}

// FirstPhase returns the name of the first phase.
func (c *FlowConfig) FirstPhase() string {
	return c.phases[0].Name
}

// NextPhase returns the phase that follows last. An empty last yields the
// first phase. The second return value is false when last is the final phase
// (the flow is complete) or is not part of this flow type.
func (c *FlowConfig) NextPhase(last string) (string, bool) {
	if last == "" {
		return c.phases[0].Name, true
	}
	i, ok := c.index[last]
	if !ok || i+1 >= len(c.phases) {
		return "", false
	}
	return c.phases[i+1].Name, true
}

// Progress returns the completion percentage for a number of completed phases.
func (c *FlowConfig) Progress(completed int) int {
	if completed <= 0 {
		return 0
	}
	if completed >= len(c.phases) {
		return 100
	}
	return completed * 100 / len(c.phases)
}

// Registry maps flow type names to their configuration.
type Registry struct {
	configs map[string]*FlowConfig
}

// New builds a registry from the given flow types. Later definitions with the
// same name replace earlier ones, which lets a YAML file override built-ins.
func New(types ...FlowType) (*Registry, error) {
	r := &Registry{configs: make(map[string]*FlowConfig, len(types))}
	for _, ft := range types {
		cfg, err := compile(ft)
		if err != nil {
			return nil, err
		}
		r.configs[ft.Name] = cfg
	}
	return r, nil
}

func compile(ft FlowType) (*FlowConfig, error) {
	if ft.Name == "" {
		return nil, fmt.Errorf("flow type name is required")
	}
	if len(ft.Phases) == 0 {
		return nil, fmt.Errorf("flow type %q has no phases", ft.Name)
	}

	cfg := &FlowConfig{
		name:        ft.Name,
		description: ft.Description,
		version:     ft.Version,
		phases:      make([]PhaseConfig, len(ft.Phases)),
		index:       make(map[string]int, len(ft.Phases)),
	}
	for i, p := range ft.Phases {
		if p.Name == "" {
			return nil, fmt.Errorf("flow type %q: phase %d has no name", ft.Name, i)
		}
		if _, dup := cfg.index[p.Name]; dup {
			return nil, fmt.Errorf("flow type %q: duplicate phase %q", ft.Name, p.Name)
		}
		if p.Timeout < 0 {
			return nil, fmt.Errorf("flow type %q: phase %q has negative timeout", ft.Name, p.Name)
		}
		cfg.index[p.Name] = i
		cfg.phases[i] = p
	}
	return cfg, nil
}

// IsRegistered reports whether the flow type exists.
func (r *Registry) IsRegistered(name string) bool {
	_, ok := r.configs[name]
	return ok
}

// Config returns the configuration for a flow type.
func (r *Registry) Config(name string) (*FlowConfig, error) {
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlowType, name)
	}
	return cfg, nil
}

// Names returns the registered flow type names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidatorNames returns every validator name referenced by any phase, so
// callers can check them against a validator registry at startup.
func (r *Registry) ValidatorNames() []string {
	seen := make(map[string]bool)
	for _, cfg := range r.configs {
		for _, p := range cfg.phases {
			for _, v := range p.Validators {
				seen[v] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
