package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp_Server(t *testing.T) {
	cfg := writeTestConfig(t)
	a, err := newApp(context.Background(), &globalFlags{configPath: cfg})
	require.NoError(t, err)
	defer a.Close()

	srv, err := a.server()
	require.NoError(t, err)
	h := srv.Handler()

	for _, path := range []string{"/health", "/metrics", "/api/performance", "/api/audit", "/api/status"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
	assert.NotNil(t, srv.NextMaintenance())
}
