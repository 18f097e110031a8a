// Package pgtest connects tests to the PostgreSQL instance named by TEST_DATABASE.
// Tests calling it are skipped when the variable is unset.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// EnvVar holds the connection string of the test database.
const EnvVar = "TEST_DATABASE"

// ConnString returns the test database connection string, skipping t if none is set.
func ConnString(t testing.TB) string {
	t.Helper()
	cs := os.Getenv(EnvVar)
	if cs == "" {
		t.Skipf("%s not set", EnvVar)
	}
	return cs
}

// Pool opens a pool to the test database that is closed when t finishes.
// Server notices are forwarded to the test log.
func Pool(t testing.TB) *pgxpool.Pool {
	t.Helper()
	config, err := pgxpool.ParseConfig(ConnString(t))
	require.NoError(t, err)

	config.ConnConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	t.Cleanup(pool.Close)
	return pool
}

// Table creates table with the given column definitions and drops it when t finishes.
// The name is suffixed to keep parallel packages apart, and the final name is returned.
func Table(t testing.TB, pool *pgxpool.Pool, name, columns string) string {
	t.Helper()
	table := fmt.Sprintf("%s_%d", name, time.Now().UnixNano())
	ident := pgx.Identifier{table}.Sanitize()

	_, err := pool.Exec(context.Background(), fmt.Sprintf("CREATE TABLE %s (%s)", ident, columns))
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+ident)
		require.NoError(t, err)
	})
	return table
}
