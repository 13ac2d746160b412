package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "json to stdout", config: Config{Level: "info", Format: "json", Output: OutputStdout}},
		{name: "text to stderr", config: Config{Level: "debug", Format: "text", Output: OutputStderr}},
		{name: "defaults", config: Config{}},
		{name: "unknown level", config: Config{Level: "trace"}, wantErr: "level must be one of"},
		{name: "unknown format", config: Config{Format: "xml"}, wantErr: "format must be json or text"},
		{name: "unwritable file", config: Config{Output: "/nonexistent/dir/flow.log"}, wantErr: "failed to open log file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"WARN", slog.LevelWarn, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := ParseLevel(tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, OutputStdout, cfg.Output)
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowmaster.log")
	logger, err := New(Config{Output: path, Service: "flowctl"})
	require.NoError(t, err)

	logger.Info("flow created", "flow_id", "f1")
	require.NoError(t, logger.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "f1", lines[0]["flow_id"])
	assert.Equal(t, "flowctl", lines[0]["service"])
	ts, ok := lines[0]["time"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(ts, "Z"), "timestamps are UTC: %s", ts)
}

func TestLogger_SetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowmaster.log")
	logger, err := New(Config{Level: "warn", Output: path})
	require.NoError(t, err)
	derived := logger.With("component", "orchestrator")

	derived.Info("hidden")
	require.NoError(t, logger.SetLevel("debug"))
	assert.Equal(t, slog.LevelDebug, logger.Level())
	derived.Debug("shown")
	assert.Error(t, logger.SetLevel("loud"))
	require.NoError(t, logger.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
	assert.Equal(t, "orchestrator", lines[0]["component"])
}

func TestLogger_CloseStdout(t *testing.T) {
	logger, err := New(Config{Output: OutputStdout})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	require.NotNil(t, logger)
	logger.Error("dropped")
}
