package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is the subset of *pgx.Conn, *pgxpool.Conn and pgx.Tx that sessions need.
// Statements run on a Conn until the first write begins a transaction.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ Conn = (*pgx.Conn)(nil)
	_ Conn = (pgx.Tx)(nil)
)
