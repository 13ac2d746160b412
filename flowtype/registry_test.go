package flowtype

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoPhase() FlowType {
	return FlowType{
		Name: "two",
		Phases: []PhaseConfig{
			{Name: "phase1", Task: TaskSpec{Handler: "echo"}},
			{Name: "phase2", Task: TaskSpec{Handler: "echo"}, RunningStatus: "working"},
		},
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		ft      FlowType
		wantErr string
	}{
		{"missing name", FlowType{Phases: []PhaseConfig{{Name: "a"}}}, "name is required"},
		{"no phases", FlowType{Name: "x"}, "has no phases"},
		{"unnamed phase", FlowType{Name: "x", Phases: []PhaseConfig{{}}}, "has no name"},
		{"duplicate phase", FlowType{Name: "x", Phases: []PhaseConfig{{Name: "a"}, {Name: "a"}}}, "duplicate phase"},
		{"negative timeout", FlowType{Name: "x", Phases: []PhaseConfig{{Name: "a", Timeout: -time.Second}}}, "negative timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ft)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg, err := New(twoPhase())
	require.NoError(t, err)

	assert.True(t, reg.IsRegistered("two"))
	assert.False(t, reg.IsRegistered("nope"))

	_, err = reg.Config("nope")
	assert.True(t, errors.Is(err, ErrUnknownFlowType))

	cfg, err := reg.Config("two")
	require.NoError(t, err)
	assert.Equal(t, []string{"phase1", "phase2"}, cfg.PhaseNames())
	assert.Equal(t, "phase1", cfg.FirstPhase())
	assert.Equal(t, 1, cfg.Index("phase2"))
	assert.Equal(t, -1, cfg.Index("phase3"))

	p, ok := cfg.Phase("phase2")
	require.True(t, ok)
	assert.Equal(t, "working", p.Status())

	p, ok = cfg.Phase("phase1")
	require.True(t, ok)
	assert.Equal(t, "phase1_in_progress", p.Status())
	assert.Equal(t, "phase1_completed", p.CompletedStatus())
}

func TestFlowConfig_NextPhase(t *testing.T) {
	reg, err := New(twoPhase())
	require.NoError(t, err)
	cfg, err := reg.Config("two")
	require.NoError(t, err)

	next, ok := cfg.NextPhase("")
	assert.True(t, ok)
	assert.Equal(t, "phase1", next)

	next, ok = cfg.NextPhase("phase1")
	assert.True(t, ok)
	assert.Equal(t, "phase2", next)

	_, ok = cfg.NextPhase("phase2")
	assert.False(t, ok, "final phase signals completion")

	_, ok = cfg.NextPhase("unknown")
	assert.False(t, ok)
}

func TestFlowConfig_Progress(t *testing.T) {
	reg, err := New(Builtin()...)
	require.NoError(t, err)
	cfg, err := reg.Config("discovery")
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Progress(0))
	assert.Equal(t, 16, cfg.Progress(1))
	assert.Equal(t, 50, cfg.Progress(3))
	assert.Equal(t, 100, cfg.Progress(6))
}

func TestRegistry_PhasesReturnsCopy(t *testing.T) {
	reg, err := New(twoPhase())
	require.NoError(t, err)
	cfg, _ := reg.Config("two")

	phases := cfg.Phases()
	phases[0].Name = "mutated"

	assert.Equal(t, "phase1", cfg.FirstPhase())
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	reg, err := New(Builtin()...)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, name := range reg.Names() {
				cfg, err := reg.Config(name)
				assert.NoError(t, err)
				_, _ = cfg.NextPhase(cfg.FirstPhase())
			}
		}()
	}
	wg.Wait()
}

func TestBuiltin(t *testing.T) {
	reg, err := New(Builtin()...)
	require.NoError(t, err)
	assert.Equal(t, []string{"assessment", "collection", "discovery"}, reg.Names())
	assert.Contains(t, reg.ValidatorNames(), "phase_sequence")

	cfg, err := reg.Config("collection")
	require.NoError(t, err)
	p, ok := cfg.Phase("questionnaire_generation")
	require.True(t, ok)
	assert.Equal(t, "generating_questionnaires", p.Status())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "types.yaml")
	content := `
flow_types:
  - name: onboarding
    description: Customer onboarding
    phases:
      - name: intake
        validators: [non_empty_input]
        task:
          handler: echo
          params:
            queue: intake
        timeout: 45s
      - name: review
        task:
          handler: summarize
  - name: discovery
    phases:
      - name: only
        task:
          handler: echo
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	reg, err := Load(path)
	require.NoError(t, err)

	cfg, err := reg.Config("onboarding")
	require.NoError(t, err)
	intake, ok := cfg.Phase("intake")
	require.True(t, ok)
	assert.Equal(t, 45*time.Second, intake.Timeout)
	assert.Equal(t, "intake", intake.Task.Params["queue"])

	// File definitions override built-ins of the same name
	disc, err := reg.Config("discovery")
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, disc.PhaseNames())

	// Built-ins not in the file remain
	assert.True(t, reg.IsRegistered("assessment"))
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flow_types: [[["), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoad_EmptyPath(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)
	assert.True(t, reg.IsRegistered("discovery"))
}
