package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nomis52/flowmaster/cron"
	"github.com/nomis52/flowmaster/performance"
	"github.com/nomis52/flowmaster/retry"
)

const (
	// Store types
	StoreMemory   = "memory"
	StoreDisk     = "disk"
	StoreRedis    = "redis"
	StorePostgres = "postgres"

	// Default store settings
	defaultStoreType     = StoreMemory
	defaultDiskDir       = "./state/flows"
	defaultRedisPrefix   = "flowmaster:"
	defaultPostgresConns = 10

	// Default retry settings
	defaultMaxAttempts = 3
	defaultBackoff     = retry.BackoffExponential
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 30 * time.Second

	// Default timeouts
	defaultPhaseTimeout = 120 * time.Second
	defaultLeaseGrace   = 30 * time.Second

	// Default performance settings
	defaultHistorySize = performance.DefaultHistorySize
	defaultStatsTTL    = performance.DefaultStatsTTL

	// Default audit settings
	defaultAuditCapacity = 10000
	defaultAuditKey      = "flowmaster:audit"
	defaultAuditMax      = 10000

	// Default monitoring settings
	defaultListenAddr    = ":8080"
	defaultMetricsPrefix = "flowmaster"
	defaultJobName       = "flowmaster"

	// Default schedule
	defaultTriggers     = "performance_report,active_flows:*/5 * * * *"
	defaultReportWindow = 15 * time.Minute

	// Default logging settings
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
	defaultLogOutput = "stdout"
)

// Config represents the complete application configuration
type Config struct {
	Logging       LoggingConfig     `yaml:"logging"`
	Store         StoreConfig       `yaml:"store"`
	FlowTypesFile string            `yaml:"flow_types_file"`
	Retry         RetryConfig       `yaml:"retry"`
	Timeouts      TimeoutsConfig    `yaml:"timeouts"`
	Performance   PerformanceConfig `yaml:"performance"`
	Audit         AuditConfig       `yaml:"audit"`
	Monitoring    MonitoringConfig  `yaml:"monitoring"`
	Schedule      ScheduleConfig    `yaml:"schedule"`
}

// LoggingConfig defines logging behavior settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// StoreConfig selects and configures the flow store backend
type StoreConfig struct {
	Type     string         `yaml:"type"` // memory, disk, redis, postgres
	Disk     DiskConfig     `yaml:"disk"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	// Retry gives networked backends a second attempt on transient errors.
	Retry bool `yaml:"retry"`
}

// DiskConfig holds settings for the JSON file store
type DiskConfig struct {
	Dir string `yaml:"dir"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// RetryConfig defines how failed phase executions are retried
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     string        `yaml:"backoff"` // fixed, linear, exponential, none
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// TimeoutsConfig defines various timeout durations
type TimeoutsConfig struct {
	// PhaseDefault applies to phases whose flow type sets no timeout.
	PhaseDefault time.Duration `yaml:"phase_default"`
	// LeaseGrace is added to the retry budget when sizing an execution lease.
	LeaseGrace time.Duration `yaml:"lease_grace"`
}

// PerformanceConfig configures operation tracking
type PerformanceConfig struct {
	HistorySize int                              `yaml:"history_size"`
	StatsTTL    time.Duration                    `yaml:"stats_ttl"`
	Default     performance.Threshold            `yaml:"default"`
	Thresholds  map[string]performance.Threshold `yaml:"thresholds"`
}

// AuditConfig configures the audit log
type AuditConfig struct {
	Capacity  int             `yaml:"capacity"`
	RedisSink RedisSinkConfig `yaml:"redis_sink"`
}

// RedisSinkConfig mirrors audit entries to a Redis list. The connection comes
// from store.redis.
type RedisSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Key     string `yaml:"key"`
	Max     int64  `yaml:"max"`
}

// MonitoringConfig holds metrics and monitoring settings
type MonitoringConfig struct {
	// ListenAddr is where flowctl serve listens.
	ListenAddr string `yaml:"listen_addr"`
	// PushURL switches metrics to remote-write push when set.
	PushURL string `yaml:"push_url"`
	Prefix  string `yaml:"prefix"`
	Job     string `yaml:"job"`
	// TLSCert and TLSKey switch the listener to HTTPS. Renewed files are
	// picked up without a restart.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// ScheduleConfig defines maintenance job schedules
type ScheduleConfig struct {
	// Triggers uses the format job1,job2:cron;job3:cron. Jobs are
	// performance_report and active_flows.
	Triggers string `yaml:"triggers"`
	// ReportWindow is how far back the performance report looks.
	ReportWindow time.Duration `yaml:"report_window"`
}

// Validate performs basic validation on the configuration
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreMemory:
	case StoreDisk:
		if c.Store.Disk.Dir == "" {
			return fmt.Errorf("disk store requires store.disk.dir")
		}
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("redis store requires store.redis.addr")
		}
	case StorePostgres:
		if c.Store.Postgres.URL == "" {
			return fmt.Errorf("postgres store requires store.postgres.url")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry max delay must not be less than base delay")
	}
	if _, err := retry.ParseBackoff(c.Retry.Backoff, c.Retry.BaseDelay, c.Retry.MaxDelay); err != nil {
		return err
	}
	if c.Timeouts.PhaseDefault <= 0 {
		return fmt.Errorf("phase default timeout must be positive")
	}
	if c.Timeouts.LeaseGrace < 0 {
		return fmt.Errorf("lease grace must not be negative")
	}
	if c.Performance.HistorySize <= 0 {
		return fmt.Errorf("performance history size must be positive")
	}
	if c.Audit.Capacity <= 0 {
		return fmt.Errorf("audit capacity must be positive")
	}
	if c.Audit.RedisSink.Enabled && c.Store.Redis.Addr == "" {
		return fmt.Errorf("audit redis sink requires store.redis.addr")
	}
	if (c.Monitoring.TLSCert == "") != (c.Monitoring.TLSKey == "") {
		return fmt.Errorf("monitoring tls_cert and tls_key must be set together")
	}
	if c.Schedule.Triggers != "" {
		if _, err := cron.ParseTriggerSpecs(c.Schedule.Triggers, nil); err != nil {
			return fmt.Errorf("invalid schedule triggers: %w", err)
		}
	}
	if c.Schedule.ReportWindow < 0 {
		return fmt.Errorf("report window must not be negative")
	}
	return nil
}

// SetDefaults sets reasonable default values for optional fields
func (c *Config) SetDefaults() {
	if c.Store.Type == "" {
		c.Store.Type = defaultStoreType
	}
	if c.Store.Type == StoreDisk && c.Store.Disk.Dir == "" {
		c.Store.Disk.Dir = defaultDiskDir
	}
	if c.Store.Redis.Prefix == "" {
		c.Store.Redis.Prefix = defaultRedisPrefix
	}
	if c.Store.Postgres.MaxConns == 0 {
		c.Store.Postgres.MaxConns = defaultPostgresConns
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = defaultMaxAttempts
	}
	if c.Retry.Backoff == "" {
		c.Retry.Backoff = defaultBackoff
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = defaultBaseDelay
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = defaultMaxDelay
	}
	if c.Timeouts.PhaseDefault == 0 {
		c.Timeouts.PhaseDefault = defaultPhaseTimeout
	}
	if c.Timeouts.LeaseGrace == 0 {
		c.Timeouts.LeaseGrace = defaultLeaseGrace
	}
	if c.Performance.HistorySize == 0 {
		c.Performance.HistorySize = defaultHistorySize
	}
	if c.Performance.StatsTTL == 0 {
		c.Performance.StatsTTL = defaultStatsTTL
	}
	if c.Audit.Capacity == 0 {
		c.Audit.Capacity = defaultAuditCapacity
	}
	if c.Audit.RedisSink.Key == "" {
		c.Audit.RedisSink.Key = defaultAuditKey
	}
	if c.Audit.RedisSink.Max == 0 {
		c.Audit.RedisSink.Max = defaultAuditMax
	}
	if c.Monitoring.ListenAddr == "" {
		c.Monitoring.ListenAddr = defaultListenAddr
	}
	if c.Monitoring.Prefix == "" {
		c.Monitoring.Prefix = defaultMetricsPrefix
	}
	if c.Monitoring.Job == "" {
		c.Monitoring.Job = defaultJobName
	}
	if c.Schedule.Triggers == "" {
		c.Schedule.Triggers = defaultTriggers
	}
	if c.Schedule.ReportWindow == 0 {
		c.Schedule.ReportWindow = defaultReportWindow
	}
	// Set logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = defaultLogOutput
	}
}

// RetryPolicy builds the phase retry policy. Call after Validate.
func (c *Config) RetryPolicy() retry.Policy {
	backoff, err := retry.ParseBackoff(c.Retry.Backoff, c.Retry.BaseDelay, c.Retry.MaxDelay)
	if err != nil {
		backoff = retry.DefaultPolicy().Backoff
	}
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Backoff:     backoff,
	}
}

// TrackerConfig converts the performance section for performance.New.
func (c *Config) TrackerConfig() performance.Config {
	return performance.Config{
		HistorySize: c.Performance.HistorySize,
		StatsTTL:    c.Performance.StatsTTL,
		Default:     c.Performance.Default,
		Thresholds:  c.Performance.Thresholds,
	}
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.SetDefaults()
	return cfg
}

// LoadConfig reads the YAML config file at the given path and returns a Config struct
func LoadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
