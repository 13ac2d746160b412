package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nomis52/flowmaster/buildinfo"
)

func newValidateConfigCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Check the config file and flow type definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g.configPath)
			if err != nil {
				return err
			}
			types, _, _, err := loadRegistries(cfg)
			if err != nil {
				return fmt.Errorf("invalid flow types: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration validation successful: %s (%d flow types)\n",
				displayPath(g.configPath), len(types.Names()))
			return nil
		},
	}
}

func displayPath(path string) string {
	if path == "" {
		return "<defaults>"
	}
	return path
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), buildinfo.Get().String())
			return err
		},
	}
}
