package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nomis52/flowmaster/orchestrator"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(w io.Writer, asJSON bool, s *orchestrator.Summary) error {
	if asJSON {
		return printJSON(w, s)
	}
	_, err := fmt.Fprintf(w, "%s  %s  %s/%s  phase=%s  progress=%d%%\n",
		s.FlowID, s.FlowType, s.Status, s.ChildStatus, s.CurrentPhase, s.Progress)
	return err
}

func printSummaries(w io.Writer, asJSON bool, flows []*orchestrator.Summary) error {
	if asJSON {
		if flows == nil {
			flows = []*orchestrator.Summary{}
		}
		return printJSON(w, flows)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FLOW ID\tTYPE\tNAME\tSTATUS\tPHASE\tPROGRESS\tUPDATED")
	for _, s := range flows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d%%\t%s\n",
			s.FlowID, s.FlowType, s.FlowName, s.Status, s.CurrentPhase, s.Progress,
			s.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func printPhaseResult(w io.Writer, asJSON bool, r *orchestrator.PhaseResult) error {
	if asJSON {
		return printJSON(w, r)
	}
	line := fmt.Sprintf("%s  %s  %s  attempts=%d  %dms", r.FlowID, r.Phase, r.Status, r.Attempts, r.ExecutionTimeMS)
	switch {
	case r.FlowCompleted:
		line += "  flow completed"
	case r.NextPhase != "":
		line += "  next=" + r.NextPhase
	}
	_, err := fmt.Fprintln(w, line)
	return err
}
