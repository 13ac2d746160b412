package validation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Builtins returns the validators every registry created by
// NewDefaultRegistry starts with.
func Builtins() map[string]Validator {
	return map[string]Validator{
		"non_empty_input":     NonEmptyInput,
		"required_fields":     RequiredFields,
		"phase_sequence":      PhaseSequence,
		"phase_not_completed": PhaseNotCompleted,
	}
}

// NonEmptyInput fails when the phase input has no keys.
func NonEmptyInput(_ context.Context, in Input) Result {
	if len(in.PhaseInput) == 0 {
		return Invalid(fmt.Sprintf("phase %s requires input", in.Phase.Name))
	}
	return Valid()
}

// RequiredFields fails unless every path in the phase's Required list is
// present in the input. Paths use gjson syntax, e.g. "source.type" or
// "assets.#".
func RequiredFields(_ context.Context, in Input) Result {
	if len(in.Phase.Required) == 0 {
		return Valid()
	}

	data, err := json.Marshal(in.PhaseInput)
	if err != nil {
		return Invalid(fmt.Sprintf("phase input is not serializable: %v", err))
	}

	var missing []string
	for _, path := range in.Phase.Required {
		if !gjson.GetBytes(data, path).Exists() {
			missing = append(missing, fmt.Sprintf("missing required field %q", path))
		}
	}
	if len(missing) > 0 {
		return Invalid(missing...)
	}
	return Valid()
}

// PhaseSequence fails unless every phase before this one has a recorded result.
func PhaseSequence(_ context.Context, in Input) Result {
	if in.FlowType == nil {
		return Valid()
	}

	idx := in.FlowType.Index(in.Phase.Name)
	var missing []string
	for i, name := range in.FlowType.PhaseNames() {
		if i >= idx {
			break
		}
		if _, done := in.Child.PhaseResults[name]; !done {
			missing = append(missing, fmt.Sprintf("phase %s must complete before %s", name, in.Phase.Name))
		}
	}
	if len(missing) > 0 {
		return Invalid(missing...)
	}
	return Valid()
}

// PhaseNotCompleted warns when the phase already has a result; re-running it
// replaces the earlier result.
func PhaseNotCompleted(_ context.Context, in Input) Result {
	if _, done := in.Child.PhaseResults[in.Phase.Name]; done {
		return Result{
			Valid:    true,
			Warnings: []string{fmt.Sprintf("phase %s already completed; result will be replaced", in.Phase.Name)},
		}
	}
	return Valid()
}
