package handlers

import (
	"net/http"
	"time"

	"github.com/nomis52/flowmaster/buildinfo"
)

// NextRunResponse describes the next maintenance run.
type NextRunResponse struct {
	Scheduled bool       `json:"scheduled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// APIStatusResponse is the response for /api/status.
type APIStatusResponse struct {
	Build           buildinfo.Properties `json:"build"`
	StartedAt       time.Time            `json:"started_at"`
	Uptime          string               `json:"uptime"`
	NextMaintenance NextRunResponse      `json:"next_maintenance"`
}

// APIStatusHandler serves the state of the serving process.
type APIStatusHandler struct {
	provider StatusProvider
	now      func() time.Time
}

// NewAPIStatusHandler creates a new APIStatusHandler.
func NewAPIStatusHandler(provider StatusProvider) *APIStatusHandler {
	return &APIStatusHandler{provider: provider, now: time.Now}
}

// ServeHTTP implements http.Handler.
func (h *APIStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := h.provider.StartedAt()
	next := h.provider.NextMaintenance()
	writeJSON(w, http.StatusOK, APIStatusResponse{
		Build:     buildinfo.Get(),
		StartedAt: started,
		Uptime:    h.now().Sub(started).Truncate(time.Second).String(),
		NextMaintenance: NextRunResponse{
			Scheduled: next != nil,
			NextRun:   next,
		},
	})
}
