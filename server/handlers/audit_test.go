package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/flowmaster/audit"
)

type fakeQuerier struct {
	filter  audit.Filter
	entries []audit.Entry
}

func (f *fakeQuerier) Query(filter audit.Filter) []audit.Entry {
	f.filter = filter
	return f.entries
}

func TestAuditHandler(t *testing.T) {
	q := &fakeQuerier{entries: []audit.Entry{
		{Seq: 1, OperationType: "create_flow", FlowID: "f1", Actor: "alice", Success: true},
	}}
	h := NewAuditHandler(q)

	req := httptest.NewRequest(http.MethodGet,
		"/api/audit?flow_id=f1&operation=create_flow&actor=alice&client_account_id=acct-1&success=true&since=2026-01-02T03:04:05Z&limit=5", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "f1", q.filter.FlowID)
	assert.Equal(t, "create_flow", q.filter.OperationType)
	assert.Equal(t, "alice", q.filter.Actor)
	assert.Equal(t, "acct-1", q.filter.ClientAccountID)
	require.NotNil(t, q.filter.Success)
	assert.True(t, *q.filter.Success)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), q.filter.Since)
	assert.Equal(t, 5, q.filter.Limit)

	var got []audit.Entry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "create_flow", got[0].OperationType)
}

func TestAuditHandler_Defaults(t *testing.T) {
	q := &fakeQuerier{}
	h := NewAuditHandler(q)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/audit", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, audit.Filter{Limit: DefaultAuditLimit}, q.filter)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestAuditHandler_BadParams(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"success=maybe", "invalid success"},
		{"since=yesterday", "invalid since"},
		{"limit=ten", "invalid limit"},
		{"limit=0", "invalid limit"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			h := NewAuditHandler(&fakeQuerier{})
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/audit?"+tt.query, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error, tt.want)
		})
	}
}
