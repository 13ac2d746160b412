package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nomis52/flowmaster/cron"
	"github.com/nomis52/flowmaster/maintenance"
	"github.com/nomis52/flowmaster/server"
	"github.com/nomis52/flowmaster/store"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and diagnostics and run maintenance jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withApp(cmd, g, func(_ context.Context, a *app) error {
				if addr != "" {
					a.cfg.Monitoring.ListenAddr = addr
				}
				srv, err := a.server()
				if err != nil {
					return err
				}
				return srv.Run(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "listen", "", "Override monitoring.listen_addr")
	return cmd
}

// server wires the maintenance jobs, their triggers and the HTTP server.
func (a *app) server() (*server.Server, error) {
	logger := a.logger.Logger
	deps := maintenance.Deps{
		Store:    a.store,
		Reporter: a.tracker,
		Window:   a.cfg.Schedule.ReportWindow,
		Logger:   logger,
	}
	opts := []server.Option{
		server.WithListenAddr(a.cfg.Monitoring.ListenAddr),
		server.WithLogger(logger),
		server.WithAudit(a.audit),
		server.WithHealthCheck("store", func(ctx context.Context) error {
			_, err := a.store.List(ctx, store.Filter{Limit: 1})
			return err
		}),
	}
	if a.push != nil {
		deps.Registry = a.push
		deps.Pusher = a.push
	} else {
		deps.Registry = a.scrape
		opts = append(opts, server.WithMetrics(a.scrape.Handler()))
	}

	jobs, err := maintenance.Jobs(deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create maintenance jobs: %w", err)
	}
	manager, err := cron.NewManager(a.cfg.Schedule.Triggers, jobs, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create maintenance triggers: %w", err)
	}
	opts = append(opts, server.WithCron(manager))

	if m := a.cfg.Monitoring; m.TLSCert != "" {
		loader, err := server.NewCertLoader(m.TLSCert, m.TLSKey, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithTLS(loader))
	}
	return server.New(a.tracker, opts...), nil
}
