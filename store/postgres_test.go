package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// Set FLOWMASTER_POSTGRES_URL to a disposable database to run these tests.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("FLOWMASTER_POSTGRES_URL")
	if url == "" {
		t.Skip("FLOWMASTER_POSTGRES_URL not set")
	}

	runConformance(t, func(t *testing.T) Store {
		ctx := context.Background()
		s, err := OpenPostgres(ctx, url, 4, nil)
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, `TRUNCATE flow_masters CASCADE`)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
