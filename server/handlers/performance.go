package handlers

import (
	"fmt"
	"net/http"
	"time"
)

// DefaultReportWindow is used when the request sets no window.
const DefaultReportWindow = 15 * time.Minute

// PerformanceHandler serves a performance report. The optional "window"
// query parameter is a Go duration such as "5m" or "1h".
type PerformanceHandler struct {
	reporter PerformanceReporter
}

// NewPerformanceHandler creates a new PerformanceHandler.
func NewPerformanceHandler(reporter PerformanceReporter) *PerformanceHandler {
	return &PerformanceHandler{reporter: reporter}
}

// ServeHTTP implements http.Handler.
func (h *PerformanceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	window := DefaultReportWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid window %q", v))
			return
		}
		window = d
	}
	writeJSON(w, http.StatusOK, h.reporter.Report(window))
}
