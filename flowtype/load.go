package flowtype

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a flow type definition file.
//
//	flow_types:
//	  - name: onboarding
//	    phases:
//	      - name: intake
//	        validators: [non_empty_input]
//	        task: {handler: echo}
//	        timeout: 60s
type File struct {
	FlowTypes []FlowType `yaml:"flow_types"`
}

// Parse decodes flow type definitions from YAML.
func Parse(data []byte) ([]FlowType, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing flow types: %w", err)
	}
	return f.FlowTypes, nil
}

// Load builds a registry from the built-in flow types plus those defined in
// the YAML file at path. Definitions in the file replace built-ins with the
// same name. An empty path yields the built-ins alone.
func Load(path string) (*Registry, error) {
	types := Builtin()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading flow types file: %w", err)
		}
		extra, err := Parse(data)
		if err != nil {
			return nil, err
		}
		types = append(types, extra...)
	}
	return New(types...)
}
