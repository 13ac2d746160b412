package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/flowmaster/buildinfo"
)

type fakeStatus struct {
	next    *time.Time
	started time.Time
}

func (f fakeStatus) NextMaintenance() *time.Time { return f.next }
func (f fakeStatus) StartedAt() time.Time        { return f.started }

func TestAPIStatusHandler(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := started.Add(5 * time.Minute)
	h := NewAPIStatusHandler(fakeStatus{next: &next, started: started})
	h.now = func() time.Time { return started.Add(90*time.Second + 300*time.Millisecond) }

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got APIStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, buildinfo.Get(), got.Build)
	assert.True(t, got.StartedAt.Equal(started))
	assert.Equal(t, "1m30s", got.Uptime)
	assert.True(t, got.NextMaintenance.Scheduled)
	require.NotNil(t, got.NextMaintenance.NextRun)
	assert.True(t, got.NextMaintenance.NextRun.Equal(next))
}

func TestAPIStatusHandler_NoMaintenance(t *testing.T) {
	h := NewAPIStatusHandler(fakeStatus{started: time.Now()})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got APIStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.False(t, got.NextMaintenance.Scheduled)
	assert.Nil(t, got.NextMaintenance.NextRun)
}
