package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapturingLoggerHook_SeparatesFlows(t *testing.T) {
	base := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	hook := NewCapturingLoggerHook(NewCollector(0), nil)

	l1 := hook.LoggerForFlow(base, "f1")
	l2 := hook.LoggerForFlow(base, "f2")
	l1.Info("from f1")
	l2.Info("from f2")
	l2.Warn("again from f2")

	c := hook.Collector()
	require.Len(t, c.Logs("f1"), 1)
	require.Len(t, c.Logs("f2"), 2)
	assert.Equal(t, "from f1", c.Logs("f1")[0].Message)
	assert.Equal(t, "f1", c.Logs("f1")[0].Attributes["flow_id"])
}

func TestCapturingLoggerHook_KeepsBaseAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil)).With("component", "orchestrator")
	hook := NewCapturingLoggerHook(NewCollector(0), slog.LevelInfo)

	hook.LoggerForFlow(base, "f1").Debug("not captured")
	hook.LoggerForFlow(base, "f1").Info("captured")

	logs := hook.Collector().Logs("f1")
	require.Len(t, logs, 1)
	assert.Equal(t, "captured", logs[0].Message)
	assert.Contains(t, buf.String(), `"component":"orchestrator"`)
	assert.Contains(t, buf.String(), `"flow_id":"f1"`)
}

func TestTaggingHook(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	var hook LoggerHook = TaggingHook{}
	hook.LoggerForFlow(base, "f9").Info("tagged")
	assert.Contains(t, buf.String(), `"flow_id":"f9"`)
}
