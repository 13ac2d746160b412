package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nomis52/flowmaster/audit"
)

// DefaultAuditLimit caps the entries returned when no limit is given.
const DefaultAuditLimit = 100

// AuditHandler serves recent audit entries, newest last. Query parameters
// flow_id, operation, actor, client_account_id, success (true/false), since
// (RFC 3339) and limit narrow the result.
type AuditHandler struct {
	querier AuditQuerier
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(querier AuditQuerier) *AuditHandler {
	return &AuditHandler{querier: querier}
}

// ServeHTTP implements http.Handler.
func (h *AuditHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries := h.querier.Query(f)
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		FlowID:          q.Get("flow_id"),
		OperationType:   q.Get("operation"),
		Actor:           q.Get("actor"),
		ClientAccountID: q.Get("client_account_id"),
		Limit:           DefaultAuditLimit,
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid success %q", v)
		}
		f.Success = &b
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid since %q", v)
		}
		f.Since = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	return f, nil
}
