package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nomis52/flowmaster/flow"
	"github.com/nomis52/flowmaster/orchestrator"
)

// withApp builds the app for one command and closes it afterwards.
func withApp(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, g)
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, a), a.Close())
}

func (g *globalFlags) scope() flow.Scope {
	return flow.Scope{ClientAccountID: g.client, EngagementID: g.engagement, UserID: g.user}
}

// inputFlags collect a JSON object from --<name>, --<name>-file and the
// key=value set flag. Set entries are applied last and always produce strings.
type inputFlags struct {
	name string
	raw  string
	file string
	set  map[string]string
}

func (f *inputFlags) register(cmd *cobra.Command, name, setName, what string) {
	f.name = name
	cmd.Flags().StringVar(&f.raw, name, "", what+" as a JSON object")
	cmd.Flags().StringVar(&f.file, name+"-file", "", "Read "+what+" from a JSON file")
	cmd.Flags().StringToStringVar(&f.set, setName, nil, "Set a top-level "+what+" field, key=value (repeatable)")
}

func (f *inputFlags) parse() (map[string]any, error) {
	out := map[string]any{}
	data := []byte(f.raw)
	if f.file != "" {
		if f.raw != "" {
			return nil, fmt.Errorf("--%s and --%s-file are mutually exclusive", f.name, f.name)
		}
		var err error
		if data, err = os.ReadFile(f.file); err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("--%s must be a JSON object: %w", f.name, err)
		}
	}
	for k, v := range f.set {
		out[k] = v
	}
	return out, nil
}

func newCreateCmd(g *globalFlags) *cobra.Command {
	var (
		name  string
		conf  inputFlags
		state inputFlags
	)
	cmd := &cobra.Command{
		Use:   "create <flow-type>",
		Short: "Create a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := conf.parse()
			if err != nil {
				return err
			}
			initial, err := state.parse()
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				s, err := a.orch.CreateFlow(ctx, g.scope(), orchestrator.CreateRequest{
					FlowType:      args[0],
					FlowName:      name,
					Configuration: cfg,
					InitialState:  initial,
				})
				if err != nil {
					return err
				}
				return printSummary(cmd.OutOrStdout(), g.json, s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Flow name (defaults to <type>-<id prefix>)")
	conf.register(cmd, "configuration", "set", "flow configuration")
	state.register(cmd, "state", "state-set", "initial child state")
	return cmd
}

func newExecuteCmd(g *globalFlags) *cobra.Command {
	var in inputFlags
	cmd := &cobra.Command{
		Use:   "execute <flow-id> <phase>",
		Short: "Run one phase of a flow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := in.parse()
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				res, err := a.orch.ExecutePhase(ctx, g.scope(), args[0], args[1], input)
				if res != nil {
					if perr := printPhaseResult(cmd.OutOrStdout(), g.json, res); perr != nil {
						return errors.Join(err, perr)
					}
				}
				return err
			})
		},
	}
	in.register(cmd, "input", "set", "phase input")
	return cmd
}

func newPauseCmd(g *globalFlags) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "pause <flow-id>",
		Short: "Pause an active flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				s, err := a.orch.PauseFlow(ctx, g.scope(), args[0], reason)
				if err != nil {
					return err
				}
				return printSummary(cmd.OutOrStdout(), g.json, s)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the flow is paused")
	return cmd
}

func newResumeCmd(g *globalFlags) *cobra.Command {
	var rc inputFlags
	cmd := &cobra.Command{
		Use:   "resume <flow-id>",
		Short: "Resume a paused flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resumeContext, err := rc.parse()
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				s, err := a.orch.ResumeFlow(ctx, g.scope(), args[0], resumeContext)
				if err != nil {
					return err
				}
				return printSummary(cmd.OutOrStdout(), g.json, s)
			})
		},
	}
	rc.register(cmd, "context", "set", "resume context")
	return cmd
}

func newRetryCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <flow-id>",
		Short: "Make a failed flow runnable again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				s, err := a.orch.RetryFlow(ctx, g.scope(), args[0])
				if err != nil {
					return err
				}
				return printSummary(cmd.OutOrStdout(), g.json, s)
			})
		},
	}
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	var opts orchestrator.DeleteOptions
	cmd := &cobra.Command{
		Use:   "delete <flow-id>",
		Short: "Delete a flow",
		Long: `Delete a flow. By default the flow is soft deleted: it stays in the store
with status deleted. --hard removes both records.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				s, err := a.orch.DeleteFlow(ctx, g.scope(), args[0], opts)
				if err != nil {
					return err
				}
				return printSummary(cmd.OutOrStdout(), g.json, s)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Hard, "hard", false, "Remove the flow from the store")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "Why the flow is deleted")
	return cmd
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	var details bool
	cmd := &cobra.Command{
		Use:   "status <flow-id>",
		Short: "Show a flow's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				s, err := a.orch.GetFlowStatus(ctx, g.scope(), args[0], details)
				if err != nil {
					return err
				}
				// Details only make sense as JSON.
				return printSummary(cmd.OutOrStdout(), g.json || details, s)
			})
		},
	}
	cmd.Flags().BoolVar(&details, "details", false, "Include configuration, phases, timings and logs")
	return cmd
}

func newListCmd(g *globalFlags) *cobra.Command {
	var (
		flowType string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active flows for the tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				flows, err := a.orch.GetActiveFlows(ctx, g.scope(), flowType, limit)
				if err != nil {
					return err
				}
				return printSummaries(cmd.OutOrStdout(), g.json, flows)
			})
		},
	}
	cmd.Flags().StringVar(&flowType, "type", "", "Only flows of this type")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of flows (0 for all)")
	return cmd
}
