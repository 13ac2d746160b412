package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/flowmaster/performance"
)

func validConfig() Config {
	cfg := Default()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown store type",
			mutate:  func(c *Config) { c.Store.Type = "etcd" },
			wantErr: `unknown store type "etcd"`,
		},
		{
			name: "disk store without dir",
			mutate: func(c *Config) {
				c.Store.Type = StoreDisk
				c.Store.Disk.Dir = ""
			},
			wantErr: "store.disk.dir",
		},
		{
			name:    "redis store without addr",
			mutate:  func(c *Config) { c.Store.Type = StoreRedis },
			wantErr: "store.redis.addr",
		},
		{
			name: "redis store with addr",
			mutate: func(c *Config) {
				c.Store.Type = StoreRedis
				c.Store.Redis.Addr = "localhost:6379"
			},
		},
		{
			name:    "postgres store without url",
			mutate:  func(c *Config) { c.Store.Type = StorePostgres },
			wantErr: "store.postgres.url",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantErr: "max attempts",
		},
		{
			name:    "negative delay",
			mutate:  func(c *Config) { c.Retry.BaseDelay = -time.Second },
			wantErr: "must not be negative",
		},
		{
			name: "max delay below base",
			mutate: func(c *Config) {
				c.Retry.BaseDelay = 10 * time.Second
				c.Retry.MaxDelay = time.Second
			},
			wantErr: "max delay",
		},
		{
			name:    "unknown backoff",
			mutate:  func(c *Config) { c.Retry.Backoff = "random" },
			wantErr: `unknown backoff type "random"`,
		},
		{
			name:    "zero phase timeout",
			mutate:  func(c *Config) { c.Timeouts.PhaseDefault = 0 },
			wantErr: "phase default timeout",
		},
		{
			name:    "negative lease grace",
			mutate:  func(c *Config) { c.Timeouts.LeaseGrace = -time.Second },
			wantErr: "lease grace",
		},
		{
			name:    "zero history",
			mutate:  func(c *Config) { c.Performance.HistorySize = 0 },
			wantErr: "history size",
		},
		{
			name:    "zero audit capacity",
			mutate:  func(c *Config) { c.Audit.Capacity = 0 },
			wantErr: "audit capacity",
		},
		{
			name:    "redis audit sink without redis",
			mutate:  func(c *Config) { c.Audit.RedisSink.Enabled = true },
			wantErr: "audit redis sink",
		},
		{
			name:    "tls cert without key",
			mutate:  func(c *Config) { c.Monitoring.TLSCert = "/etc/flowmaster/tls.crt" },
			wantErr: "tls_cert and tls_key",
		},
		{
			name:    "bad cron",
			mutate:  func(c *Config) { c.Schedule.Triggers = "performance_report:every five minutes" },
			wantErr: "invalid schedule triggers",
		},
		{
			name:    "trigger without jobs",
			mutate:  func(c *Config) { c.Schedule.Triggers = "*/5 * * * *" },
			wantErr: "invalid schedule triggers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_SetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()

	assert.Equal(t, StoreMemory, cfg.Store.Type)
	assert.Equal(t, "", cfg.Store.Disk.Dir)
	assert.Equal(t, "flowmaster:", cfg.Store.Redis.Prefix)
	assert.Equal(t, int32(10), cfg.Store.Postgres.MaxConns)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "exponential", cfg.Retry.Backoff)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 120*time.Second, cfg.Timeouts.PhaseDefault)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.LeaseGrace)
	assert.Equal(t, performance.DefaultHistorySize, cfg.Performance.HistorySize)
	assert.Equal(t, 10000, cfg.Audit.Capacity)
	assert.Equal(t, "flowmaster:audit", cfg.Audit.RedisSink.Key)
	assert.Equal(t, ":8080", cfg.Monitoring.ListenAddr)
	assert.Equal(t, "flowmaster", cfg.Monitoring.Prefix)
	assert.Equal(t, "flowmaster", cfg.Monitoring.Job)
	assert.Equal(t, "performance_report,active_flows:*/5 * * * *", cfg.Schedule.Triggers)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.ReportWindow)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
}

func TestConfig_SetDefaults_DiskDir(t *testing.T) {
	cfg := Config{Store: StoreConfig{Type: StoreDisk}}
	cfg.SetDefaults()
	assert.Equal(t, "./state/flows", cfg.Store.Disk.Dir)
}

func TestConfig_SetDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Retry:    RetryConfig{MaxAttempts: 5, Backoff: "fixed", BaseDelay: 2 * time.Second},
		Timeouts: TimeoutsConfig{PhaseDefault: time.Minute},
	}
	cfg.SetDefaults()
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "fixed", cfg.Retry.Backoff)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, time.Minute, cfg.Timeouts.PhaseDefault)
}

func TestConfig_RetryPolicy(t *testing.T) {
	tests := []struct {
		name    string
		backoff string
		want    []time.Duration
	}{
		{"fixed", "fixed", []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}},
		{"linear", "linear", []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}},
		{"exponential", "exponential", []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}},
		{"none", "none", []time.Duration{0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Retry: RetryConfig{MaxAttempts: 4, Backoff: tt.backoff, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}}
			cfg.SetDefaults()
			require.NoError(t, cfg.Validate())

			p := cfg.RetryPolicy()
			assert.Equal(t, 4, p.MaxAttempts)
			for i, want := range tt.want {
				assert.Equal(t, want, p.Backoff(i+1), "delay after failure %d", i+1)
			}
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowmaster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `logging:
  level: debug
  format: text
store:
  type: redis
  retry: true
  redis:
    addr: 127.0.0.1:6379
    db: 2
flow_types_file: /etc/flowmaster/flow_types.yaml
retry:
  max_attempts: 5
  backoff: linear
  base_delay: 500ms
  max_delay: 10s
timeouts:
  phase_default: 2m
  lease_grace: 15s
performance:
  history_size: 50
  stats_ttl: 1s
  default:
    duration: 2s
  thresholds:
    execute_phase:
      duration: 30s
      heap_growth_bytes: 1048576
audit:
  capacity: 100
  redis_sink:
    enabled: true
    max: 500
monitoring:
  listen_addr: 127.0.0.1:9090
  push_url: http://vm:8428
schedule:
  triggers: "active_flows:* * * * *;performance_report:0 * * * *"
  report_window: 1h
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, StoreRedis, cfg.Store.Type)
	assert.True(t, cfg.Store.Retry)
	assert.Equal(t, "127.0.0.1:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, "flowmaster:", cfg.Store.Redis.Prefix)
	assert.Equal(t, "/etc/flowmaster/flow_types.yaml", cfg.FlowTypesFile)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 2*time.Minute, cfg.Timeouts.PhaseDefault)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.LeaseGrace)
	assert.Equal(t, 50, cfg.Performance.HistorySize)
	assert.Equal(t, time.Second, cfg.Performance.StatsTTL)
	assert.Equal(t, 2*time.Second, cfg.Performance.Default.Duration)
	assert.Equal(t, performance.Threshold{Duration: 30 * time.Second, HeapGrowthBytes: 1 << 20},
		cfg.Performance.Thresholds["execute_phase"])
	assert.Equal(t, 100, cfg.Audit.Capacity)
	assert.True(t, cfg.Audit.RedisSink.Enabled)
	assert.Equal(t, int64(500), cfg.Audit.RedisSink.Max)
	assert.Equal(t, "flowmaster:audit", cfg.Audit.RedisSink.Key)
	assert.Equal(t, "127.0.0.1:9090", cfg.Monitoring.ListenAddr)
	assert.Equal(t, "http://vm:8428", cfg.Monitoring.PushURL)
	assert.Equal(t, "active_flows:* * * * *;performance_report:0 * * * *", cfg.Schedule.Triggers)
	assert.Equal(t, time.Hour, cfg.Schedule.ReportWindow)

	tc := cfg.TrackerConfig()
	assert.Equal(t, 50, tc.HistorySize)
	assert.Equal(t, 30*time.Second, tc.Thresholds["execute_phase"].Duration)
}

func TestLoadConfig_Empty(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: warn\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Type)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeConfig(t, "store:\n  type: postgres\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.postgres.url")
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := writeConfig(t, "retry: [unclosed\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
