package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/nomis52/flowmaster/audit"
	"github.com/nomis52/flowmaster/buildinfo"
	"github.com/nomis52/flowmaster/config"
	"github.com/nomis52/flowmaster/engine"
	"github.com/nomis52/flowmaster/flowtype"
	"github.com/nomis52/flowmaster/logging"
	"github.com/nomis52/flowmaster/metrics"
	"github.com/nomis52/flowmaster/orchestrator"
	"github.com/nomis52/flowmaster/performance"
	"github.com/nomis52/flowmaster/store"
	"github.com/nomis52/flowmaster/validation"
)

// flowLogsPerFlow bounds the log lines kept for each flow's status details.
const flowLogsPerFlow = 500

// app holds everything built from the config file.
type app struct {
	cfg        config.Config
	logger     *logging.Logger
	store      store.Store
	types      *flowtype.Registry
	validators *validation.Registry
	router     *engine.Router
	tracker    *performance.Tracker
	audit      *audit.Log
	orch       *orchestrator.Orchestrator

	// Exactly one of scrape and push is set.
	scrape *metrics.ScrapeRegistry
	push   *metrics.PushRegistry

	sinkClient *redis.Client
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// loadRegistries builds the flow type, validator and handler registries and
// checks that every name a flow type references resolves.
func loadRegistries(cfg config.Config) (*flowtype.Registry, *validation.Registry, *engine.Router, error) {
	types, err := flowtype.Load(cfg.FlowTypesFile)
	if err != nil {
		return nil, nil, nil, err
	}
	validators := validation.NewDefaultRegistry()
	if err := validators.Check(types.ValidatorNames()); err != nil {
		return nil, nil, nil, err
	}
	router := engine.NewDefaultRouter()
	if err := checkHandlers(types, router); err != nil {
		return nil, nil, nil, err
	}
	return types, validators, router, nil
}

func checkHandlers(types *flowtype.Registry, router *engine.Router) error {
	known := make(map[string]bool)
	for _, name := range router.Names() {
		known[name] = true
	}
	var errs []error
	for _, name := range types.Names() {
		cfg, err := types.Config(name)
		if err != nil {
			return err
		}
		for _, p := range cfg.Phases() {
			handler := p.Task.Handler
			if handler == "" {
				handler = p.Name
			}
			if !known[handler] {
				errs = append(errs, fmt.Errorf("%w %q for %s/%s", engine.ErrNoHandler, handler, name, p.Name))
			}
		}
	}
	return errors.Join(errs...)
}

func newApp(ctx context.Context, g *globalFlags) (*app, error) {
	cfg, err := loadConfig(g.configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.AddSource,
		Service:   "flowctl",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if g.logLevel != "" {
		if err := logger.SetLevel(g.logLevel); err != nil {
			logger.Close()
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}

	props := buildinfo.Get()
	logger.Debug("flowctl started",
		"version", props.Version,
		"git_commit", props.GitCommit,
		"config_path", g.configPath,
		"store", cfg.Store.Type,
	)
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	var err error
	logger := a.logger.Logger

	a.types, a.validators, a.router, err = loadRegistries(a.cfg)
	if err != nil {
		return err
	}

	var registry metrics.Registry
	if a.cfg.Monitoring.PushURL != "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		a.push = metrics.NewPushRegistry(metrics.PushConfig{
			URL:      a.cfg.Monitoring.PushURL,
			Prefix:   a.cfg.Monitoring.Prefix,
			Job:      a.cfg.Monitoring.Job,
			Instance: hostname,
			Logger:   logger,
		})
		registry = a.push
	} else {
		a.scrape, err = metrics.NewScrapeRegistry(a.cfg.Monitoring.Prefix)
		if err != nil {
			return fmt.Errorf("failed to create metrics registry: %w", err)
		}
		registry = a.scrape
	}

	a.tracker, err = performance.New(a.cfg.TrackerConfig(), registry, performance.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create performance tracker: %w", err)
	}

	auditOpts := []audit.Option{
		audit.WithLogger(logger),
		audit.WithSink("slog", audit.NewSlogSink(logger, slog.LevelDebug)),
	}
	if sink := a.cfg.Audit.RedisSink; sink.Enabled {
		a.sinkClient = store.NewRedisClient(a.cfg.Store.Redis)
		auditOpts = append(auditOpts, audit.WithSink("redis", audit.NewRedisSink(a.sinkClient, sink.Key, sink.Max)))
	}
	a.audit = audit.New(a.cfg.Audit.Capacity, auditOpts...)

	a.store, err = store.Open(ctx, a.cfg.Store, logger)
	if err != nil {
		return err
	}

	hook := logging.NewCapturingLoggerHook(logging.NewCollector(flowLogsPerFlow), slog.LevelInfo)
	a.orch = orchestrator.New(a.store, a.types, a.validators, a.router,
		orchestrator.WithLogger(logger),
		orchestrator.WithLogHook(hook),
		orchestrator.WithTracker(a.tracker),
		orchestrator.WithAuditLog(a.audit),
		orchestrator.WithRetryPolicy(a.cfg.RetryPolicy()),
		orchestrator.WithDefaultPhaseTimeout(a.cfg.Timeouts.PhaseDefault),
		orchestrator.WithLeaseGrace(a.cfg.Timeouts.LeaseGrace),
	)
	return nil
}

// Close releases the store, flushes the audit sinks and closes the log file.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.audit != nil {
		errs = append(errs, a.audit.Close())
	}
	if a.sinkClient != nil {
		errs = append(errs, a.sinkClient.Close())
	}
	errs = append(errs, a.logger.Close())
	return errors.Join(errs...)
}
