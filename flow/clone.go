package flow

import (
	"encoding/json"
	"fmt"
)

// Clone returns a deep copy of the flow. Stores hand out clones so callers
// can mutate a flow freely before writing it back.
func (f *Flow) Clone() (*Flow, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshaling flow %s: %w", f.Master.FlowID, err)
	}
	var out Flow
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling flow %s: %w", f.Master.FlowID, err)
	}
	return &out, nil
}

// Encode serializes the flow for backends that store it as one document.
func Encode(f *Flow) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding flow %s: %w", f.Master.FlowID, err)
	}
	return data, nil
}

// Decode parses a flow previously produced by Encode.
func Decode(data []byte) (*Flow, error) {
	var f Flow
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding flow: %w", err)
	}
	return &f, nil
}
