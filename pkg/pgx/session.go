package pgx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrSessionClosed = errors.New("pgx: session closed")

// Session is a crud.AsyncSession over a single connection. Every call runs on its
// own goroutine; calls are applied one at a time in the order they acquire the
// session. The first write begins a transaction which lasts until Commit or
// Rollback.
type Session struct {
	conn    Conn
	release func()
	tx      pgx.Tx
	closed  bool
	mu      sync.Mutex
}

var _ crud.AsyncSession = (*Session)(nil)

// NewSession returns a Session running on conn. release, if not nil, is called
// once by Close.
func NewSession(conn Conn, release func()) *Session {
	return &Session{conn: conn, release: release}
}

// run executes fn under the session lock on a new goroutine.
func run[T any](s *Session, fn func() (T, error)) *crud.Future[T] {
	return crud.Go(func() (T, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			var zero T
			return zero, ErrSessionClosed
		}
		return fn()
	})
}

// db returns the open transaction, or the bare connection outside one.
func (s *Session) db() Conn {
	if s.tx != nil {
		return s.tx
	}
	return s.conn
}

func (s *Session) begin(ctx context.Context) (pgx.Tx, error) {
	if s.tx == nil {
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("begin: %w", err)
		}
		s.tx = tx
	}
	return s.tx, nil
}

func (s *Session) Execute(ctx context.Context, stmt crud.Statement) *crud.Future[[]crud.Record] {
	q, err := buildStatement(stmt)
	if err != nil {
		return crud.Resolved[[]crud.Record](nil, err)
	}

	return run(s, func() ([]crud.Record, error) {
		if stmt.Op != crud.OpSelect {
			tx, err := s.begin(ctx)
			if err != nil {
				return nil, err
			}
			if _, err := tx.Exec(ctx, q.String(), q.args...); err != nil {
				return nil, translate(err)
			}
			return nil, nil
		}
		return collect(ctx, s.db(), q)
	})
}

func (s *Session) Add(ctx context.Context, m crud.Model, rec crud.Record) *crud.Future[struct{}] {
	q := buildInsert(m, rec)
	return run(s, func() (struct{}, error) {
		tx, err := s.begin(ctx)
		if err != nil {
			return struct{}{}, err
		}
		rows, err := collect(ctx, tx, q)
		if err != nil {
			return struct{}{}, err
		}
		if len(rows) == 1 {
			for k, v := range rows[0] {
				rec[k] = v
			}
		}
		return struct{}{}, nil
	})
}

func (s *Session) Delete(ctx context.Context, m crud.Model, rec crud.Record) *crud.Future[struct{}] {
	q := buildByKey("DELETE", m, rec[m.PrimaryKey])
	return run(s, func() (struct{}, error) {
		tx, err := s.begin(ctx)
		if err != nil {
			return struct{}{}, err
		}
		tag, err := tx.Exec(ctx, q.String(), q.args...)
		if err != nil {
			return struct{}{}, translate(err)
		}
		if tag.RowsAffected() == 0 {
			return struct{}{}, crud.ErrNoRows
		}
		return struct{}{}, nil
	})
}

func (s *Session) Refresh(ctx context.Context, m crud.Model, rec crud.Record) *crud.Future[struct{}] {
	q := buildByKey("SELECT *", m, rec[m.PrimaryKey])
	return run(s, func() (struct{}, error) {
		rows, err := collect(ctx, s.db(), q)
		if err != nil {
			return struct{}{}, err
		}
		if len(rows) == 0 {
			return struct{}{}, crud.ErrNoRows
		}
		clear(rec)
		for k, v := range rows[0] {
			rec[k] = v
		}
		return struct{}{}, nil
	})
}

func (s *Session) Commit(ctx context.Context) *crud.Future[struct{}] {
	return run(s, func() (struct{}, error) {
		if s.tx == nil {
			return struct{}{}, nil
		}
		err := s.tx.Commit(ctx)
		s.tx = nil
		return struct{}{}, translate(err)
	})
}

func (s *Session) Rollback(ctx context.Context) *crud.Future[struct{}] {
	return run(s, func() (struct{}, error) {
		return struct{}{}, s.rollback(ctx)
	})
}

func (s *Session) rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback(ctx)
	s.tx = nil
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// Close waits for the running call, rolls back an open transaction and releases
// the connection. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.rollback(ctx)
	if s.release != nil {
		s.release()
	}
	return err
}

func collect(ctx context.Context, db Conn, q *query) ([]crud.Record, error) {
	rows, err := db.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, translate(err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]crud.Record, len(maps))
	for i, m := range maps {
		out[i] = crud.Record(m)
	}
	return out, nil
}

// Provider opens one Session per request on a connection acquired from a pool.
type Provider struct {
	pool *pgxpool.Pool
}

var _ crud.AsyncProvider = (*Provider)(nil)

func NewProvider(pool *pgxpool.Pool) *Provider {
	return &Provider{pool: pool}
}

func (p *Provider) OpenAsync(ctx context.Context) (crud.AsyncSession, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgx: acquire connection: %w", err)
	}
	return NewSession(c, c.Release), nil
}
