package orm

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgeflare/crudrouter/pkg/crud"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrSessionClosed = errors.New("orm: session closed")

// Session is a crud.SyncSession over a gorm connection pool. Reads outside a
// transaction use any pooled connection; the first write begins a transaction
// which lasts until Commit or Rollback. A Session is used by one request at a time.
type Session struct {
	db     *gorm.DB
	tx     *gorm.DB
	closed bool
}

var _ crud.SyncSession = (*Session)(nil)

func NewSession(db *gorm.DB) *Session {
	return &Session{db: db}
}

func (s *Session) conn(ctx context.Context) (*gorm.DB, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.tx != nil {
		return s.tx.WithContext(ctx), nil
	}
	return s.db.WithContext(ctx), nil
}

func (s *Session) begin(ctx context.Context) (*gorm.DB, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.tx == nil {
		tx := s.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return nil, fmt.Errorf("begin: %w", tx.Error)
		}
		s.tx = tx
	}
	return s.tx.WithContext(ctx), nil
}

func (s *Session) Execute(ctx context.Context, stmt crud.Statement) ([]crud.Record, error) {
	table := clause.Table{Name: stmt.Model.Table}

	switch stmt.Op {
	case crud.OpSelect:
		db, err := s.conn(ctx)
		if err != nil {
			return nil, err
		}
		q := db.Table(stmt.Model.Table)
		if len(stmt.Where) > 0 {
			q = q.Where(map[string]any(stmt.Where))
		}
		if stmt.OrderBy != "" {
			q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: stmt.OrderBy}})
		}
		if stmt.Offset > 0 {
			q = q.Offset(stmt.Offset)
		}
		if stmt.Limit != nil {
			q = q.Limit(*stmt.Limit)
		}
		var rows []map[string]any
		if err := q.Find(&rows).Error; err != nil {
			return nil, translate(err)
		}
		return records(rows), nil

	case crud.OpUpdate:
		if len(stmt.Where) == 0 {
			return nil, fmt.Errorf("orm: update of %s without WHERE conditions", stmt.Model.Table)
		}
		tx, err := s.begin(ctx)
		if err != nil {
			return nil, err
		}
		err = tx.Table(stmt.Model.Table).Where(map[string]any(stmt.Where)).Updates(map[string]any(stmt.Set)).Error
		return nil, translate(err)

	case crud.OpDeleteAll:
		tx, err := s.begin(ctx)
		if err != nil {
			return nil, err
		}
		return nil, translate(tx.Exec("DELETE FROM ?", table).Error)
	}
	return nil, fmt.Errorf("orm: unsupported operation %d", stmt.Op)
}

// Add inserts rec and copies the stored row, including generated columns, back into it.
func (s *Session) Add(ctx context.Context, m crud.Model, rec crud.Record) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	var (
		sql  = "INSERT INTO ? DEFAULT VALUES RETURNING *"
		vars = []any{clause.Table{Name: m.Table}}
	)
	if len(rec) > 0 {
		cols := make([]any, 0, len(rec))
		vals := make([]any, 0, len(rec))
		for k, v := range rec {
			cols = append(cols, clause.Column{Name: k})
			vals = append(vals, v)
		}
		sql = "INSERT INTO ? ? VALUES ? RETURNING *"
		vars = append(vars, cols, vals)
	}

	var rows []map[string]any
	if err := tx.Raw(sql, vars...).Scan(&rows).Error; err != nil {
		return translate(err)
	}
	if len(rows) == 1 {
		for k, v := range rows[0] {
			rec[k] = v
		}
	}
	return nil
}

func (s *Session) Delete(ctx context.Context, m crud.Model, rec crud.Record) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	res := tx.Exec("DELETE FROM ? WHERE ? = ?", clause.Table{Name: m.Table}, clause.Column{Name: m.PrimaryKey}, rec[m.PrimaryKey])
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return crud.ErrNoRows
	}
	return nil
}

// Refresh replaces the contents of rec with the stored row of the same key.
func (s *Session) Refresh(ctx context.Context, m crud.Model, rec crud.Record) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	var rows []map[string]any
	err = db.Table(m.Table).Where(map[string]any{m.PrimaryKey: rec[m.PrimaryKey]}).Limit(1).Find(&rows).Error
	if err != nil {
		return translate(err)
	}
	if len(rows) == 0 {
		return crud.ErrNoRows
	}
	clear(rec)
	for k, v := range rows[0] {
		rec[k] = v
	}
	return nil
}

func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.WithContext(ctx).Commit().Error
	s.tx = nil
	return translate(err)
}

func (s *Session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.WithContext(ctx).Rollback().Error
	s.tx = nil
	if errors.Is(err, gorm.ErrInvalidTransaction) {
		return nil
	}
	return err
}

// Close rolls back an open transaction. Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	err := s.Rollback(ctx)
	s.closed = true
	return err
}

func records(rows []map[string]any) []crud.Record {
	out := make([]crud.Record, len(rows))
	for i, r := range rows {
		out[i] = crud.Record(r)
	}
	return out
}

// Provider opens one Session per request.
type Provider struct {
	db *gorm.DB
}

var _ crud.SyncProvider = (*Provider)(nil)

func NewProvider(db *gorm.DB) *Provider {
	return &Provider{db: db}
}

func (p *Provider) OpenSync(ctx context.Context) (crud.SyncSession, error) {
	return NewSession(p.db.WithContext(ctx)), nil
}
