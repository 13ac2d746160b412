package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/flowmaster/performance"
)

type fakeReporter struct {
	window time.Duration
}

func (f *fakeReporter) Report(window time.Duration) performance.Report {
	f.window = window
	return performance.Report{
		Window: window,
		Active: 2,
		Operations: map[string]performance.Stats{
			"execute_phase": {Count: 4, Successes: 3, Failures: 1, MeanMS: 12.5},
		},
	}
}

func TestPerformanceHandler(t *testing.T) {
	reporter := &fakeReporter{}
	h := NewPerformanceHandler(reporter)

	req := httptest.NewRequest(http.MethodGet, "/api/performance?window=1h", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, time.Hour, reporter.window)

	var got performance.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Active)
	assert.Equal(t, 4, got.Operations["execute_phase"].Count)
	assert.Equal(t, 1, got.Operations["execute_phase"].Failures)
}

func TestPerformanceHandler_DefaultWindow(t *testing.T) {
	reporter := &fakeReporter{}
	h := NewPerformanceHandler(reporter)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/performance", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, DefaultReportWindow, reporter.window)
}

func TestPerformanceHandler_BadWindow(t *testing.T) {
	for _, window := range []string{"soon", "-5m", "0s"} {
		t.Run(window, func(t *testing.T) {
			h := NewPerformanceHandler(&fakeReporter{})
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/performance?window="+window, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error, "invalid window")
		})
	}
}
