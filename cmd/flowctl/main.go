// Command flowctl drives flows against the configured store and serves the
// operational HTTP endpoints.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	client     string
	engagement string
	user       string
	logLevel   string
	json       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "flowctl",
		Short: "Operate flowmaster flows",
		Long: `flowctl creates and drives multi-phase flows through their lifecycle.

Every command runs against the store named in the config file, so a disk,
redis or postgres store lets separate invocations share flows.

Examples:
  # Create a discovery flow
  flowctl -c flowmaster.yaml --client acct-1 --engagement eng-1 create discovery

  # Run its first phase
  flowctl -c flowmaster.yaml --client acct-1 --engagement eng-1 \
    execute <flow-id> data_import --set source=cmdb

  # Serve health, metrics and diagnostics
  flowctl -c flowmaster.yaml serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Path to config file (defaults apply when empty)")
	pf.StringVar(&g.client, "client", "", "Client account ID")
	pf.StringVar(&g.engagement, "engagement", "", "Engagement ID")
	pf.StringVar(&g.user, "user", os.Getenv("USER"), "User ID recorded as the actor")
	pf.StringVar(&g.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	pf.BoolVar(&g.json, "json", false, "Print JSON instead of text")

	root.AddCommand(
		newServeCmd(g),
		newCreateCmd(g),
		newExecuteCmd(g),
		newPauseCmd(g),
		newResumeCmd(g),
		newRetryCmd(g),
		newDeleteCmd(g),
		newStatusCmd(g),
		newListCmd(g),
		newValidateConfigCmd(g),
		newVersionCmd(),
	)
	return root
}
