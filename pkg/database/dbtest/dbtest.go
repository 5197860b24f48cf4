// Package dbtest provides a migrated PostgreSQL pool for repository tests.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aura-webinar/classpoll/pkg/database"
)

// EnvURL names the variable holding the test database DSN.
const EnvURL = "TEST_DATABASE_URL"

// Pool connects to TEST_DATABASE_URL, applies migrations and empties every table.
// The test is skipped when the variable is unset.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(EnvURL)
	if dsn == "" {
		t.Skipf("%s not set", EnvURL)
	}
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool, zap.NewNop()))
	_, err = pool.Exec(ctx, `TRUNCATE poll_result_snapshots, votes, polls, chat_messages, participants`)
	require.NoError(t, err)
	return pool
}
