package engine

import (
	"context"
	"maps"
	"sort"
)

// Builtins returns the demonstration handlers used by flowctl.
func Builtins() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"echo":      Echo,
		"summarize": Summarize,
	}
}

// Echo returns the phase input merged over the task params.
func Echo(ctx context.Context, phase string, input map[string]any, tc TaskContext) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(tc.Task.Params)+len(input)+1)
	maps.Copy(out, tc.Task.Params)
	maps.Copy(out, input)
	out["phase"] = phase
	return out, nil
}

// Summarize reports which phases have results so far and how many result
// fields they hold.
func Summarize(ctx context.Context, phase string, input map[string]any, tc TaskContext) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	phases := make([]string, 0, len(tc.PreviousResults))
	fields := 0
	for name, results := range tc.PreviousResults {
		phases = append(phases, name)
		fields += len(results)
	}
	sort.Strings(phases)

	return map[string]any{
		"phase":             phase,
		"summarized":        phases,
		"phase_count":       len(phases),
		"result_fields":     fields,
		"input_field_count": len(input),
	}, nil
}
