package flowtype

import "time"

// Builtin returns the flow types that ship with flowmaster.
func Builtin() []FlowType {
	return []FlowType{
		discovery(),
		assessment(),
		collection(),
	}
}

func discovery() FlowType {
	seq := []string{"phase_sequence"}
	return FlowType{
		Name:        "discovery",
		Description: "Import, map, cleanse and analyse an estate inventory",
		Version:     "1.0.0",
		Phases: []PhaseConfig{
			{
				Name:          "data_import",
				Description:   "Import raw inventory data",
				Validators:    []string{"non_empty_input", "required_fields"},
				Required:      []string{"source"},
				Task:          TaskSpec{Handler: "echo", Params: map[string]any{"stage": "import"}},
				RunningStatus: "importing_data",
			},
			{
				Name:          "field_mapping",
				Description:   "Map imported fields onto the asset schema",
				Validators:    seq,
				Task:          TaskSpec{Handler: "echo", Params: map[string]any{"stage": "mapping"}},
				RunningStatus: "mapping_fields",
			},
			{
				Name:          "data_cleansing",
				Description:   "Normalise and deduplicate records",
				Validators:    seq,
				Task:          TaskSpec{Handler: "echo", Params: map[string]any{"stage": "cleansing"}},
				RunningStatus: "cleansing_data",
			},
			{
				Name:          "asset_inventory",
				Description:   "Build the asset inventory",
				Validators:    seq,
				Task:          TaskSpec{Handler: "summarize"},
				Timeout:       90 * time.Second,
				RunningStatus: "building_inventory",
			},
			{
				Name:          "dependency_analysis",
				Description:   "Discover dependencies between assets",
				Validators:    seq,
				Task:          TaskSpec{Handler: "summarize"},
				Timeout:       180 * time.Second,
				RunningStatus: "analyzing_dependencies",
			},
			{
				Name:          "tech_debt_analysis",
				Description:   "Assess technical debt across the inventory",
				Validators:    seq,
				Task:          TaskSpec{Handler: "summarize"},
				Timeout:       180 * time.Second,
				RunningStatus: "analyzing_tech_debt",
			},
		},
	}
}

func assessment() FlowType {
	seq := []string{"phase_sequence"}
	return FlowType{
		Name:        "assessment",
		Description: "Assess readiness and produce recommendations",
		Version:     "1.0.0",
		Phases: []PhaseConfig{
			{
				Name:          "readiness_assessment",
				Validators:    []string{"non_empty_input", "required_fields"},
				Required:      []string{"application_ids"},
				Task:          TaskSpec{Handler: "summarize"},
				Timeout:       60 * time.Second,
				RunningStatus: "assessing_readiness",
			},
			{
				Name:          "complexity_analysis",
				Validators:    seq,
				Task:          TaskSpec{Handler: "summarize"},
				Timeout:       120 * time.Second,
				RunningStatus: "analyzing_complexity",
			},
			{
				Name:          "risk_assessment",
				Validators:    seq,
				Task:          TaskSpec{Handler: "summarize"},
				Timeout:       120 * time.Second,
				RunningStatus: "assessing_risk",
			},
			{
				Name:          "recommendation_generation",
				Validators:    seq,
				Task:          TaskSpec{Handler: "summarize"},
				Timeout:       180 * time.Second,
				RunningStatus: "generating_recommendations",
			},
		},
	}
}

func collection() FlowType {
	seq := []string{"phase_sequence"}
	return FlowType{
		Name:        "collection",
		Description: "Collect application data automatically and by questionnaire",
		Version:     "1.0.0",
		Phases: []PhaseConfig{
			{
				Name:          "platform_detection",
				Validators:    []string{"non_empty_input"},
				Task:          TaskSpec{Handler: "echo"},
				RunningStatus: "detecting_platforms",
			},
			{
				Name:          "automated_collection",
				Validators:    seq,
				Task:          TaskSpec{Handler: "summarize"},
				Timeout:       180 * time.Second,
				RunningStatus: "collecting_data",
			},
			{
				Name:          "gap_analysis",
				Validators:    seq,
				Task:          TaskSpec{Handler: "summarize"},
				Timeout:       120 * time.Second,
				RunningStatus: "analyzing_gaps",
			},
			{
				Name:          "questionnaire_generation",
				Validators:    seq,
				Task:          TaskSpec{Handler: "summarize"},
				Timeout:       120 * time.Second,
				RunningStatus: "generating_questionnaires",
			},
			{
				Name:          "manual_collection",
				Validators:    append([]string{"phase_not_completed"}, seq...),
				Task:          TaskSpec{Handler: "echo"},
				RunningStatus: "collecting_responses",
			},
			{
				Name:          "synthesis",
				Validators:    seq,
				Task:          TaskSpec{Handler: "summarize"},
				Timeout:       120 * time.Second,
				RunningStatus: "synthesizing",
			},
		},
	}
}
