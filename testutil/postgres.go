package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/shoutout-companion/db"
)

// resetTables lists every table the service writes, in truncation order.
var resetTables = []string{"oauth_tokens", "kv"}

// SetupTestDB returns a migrated, empty Postgres database from TEST_PG_DSN and
// skips the calling test when the variable is unset.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping Postgres integration test")
	}

	dbx, err := db.Connect(dsn)
	require.NoError(t, err, "connect to TEST_PG_DSN")
	t.Cleanup(func() { _ = dbx.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, dbx.PingContext(ctx), "ping test database")

	// same order as startup: versioned migrations, then the embedded schema
	if err := db.RunMigrations(dbx); err != nil {
		t.Logf("versioned migrations failed (%v); applying embedded schema", err)
		require.NoError(t, db.Migrate(ctx, dbx), "apply embedded schema")
	}

	for _, table := range resetTables {
		_, err := dbx.ExecContext(ctx, "TRUNCATE "+table)
		require.NoError(t, err, "truncate %s", table)
	}
	return dbx
}
