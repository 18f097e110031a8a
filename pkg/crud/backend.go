package crud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edgeflare/crudrouter/pkg/metrics"
	"github.com/edgeflare/crudrouter/pkg/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/edgeflare/crudrouter/pkg/crud")

// BackendConfig configures a Backend. Only Schema and Strategy are required.
type BackendConfig struct {
	// Name labels logs, metrics and spans. Defaults to Table.
	Name   string
	Schema *schema.Schema
	// PrimaryKey defaults to DefaultPrimaryKey with its type inferred from Schema.
	PrimaryKey PrimaryKey
	// Table defaults to the lower-cased schema name.
	Table    string
	Strategy Strategy
	Logger   *zap.Logger
}

// Backend implements the six canonical operations against a request-scoped
// session. It holds no per-request state and is safe for concurrent use; every
// operation works on the session it is handed.
type Backend struct {
	name     string
	schema   *schema.Schema
	pk       PrimaryKey
	model    Model
	strategy Strategy
	logger   *zap.Logger
}

func NewBackend(cfg BackendConfig) (*Backend, error) {
	if cfg.Schema == nil {
		return nil, errors.New("crud: backend requires a schema")
	}
	if cfg.Strategy == nil {
		return nil, errors.New("crud: backend requires a session strategy")
	}

	pk := cfg.PrimaryKey
	if pk.Name == "" {
		pk.Name = DefaultPrimaryKey
	}
	if pk.Type == schema.Any {
		pk.Type = InferPrimaryKeyType(cfg.Schema, pk.Name)
	}

	table := cfg.Table
	if table == "" {
		table = strings.ToLower(cfg.Schema.Name())
	}
	name := cfg.Name
	if name == "" {
		name = table
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Backend{
		name:     name,
		schema:   cfg.Schema,
		pk:       pk,
		model:    Model{Table: table, PrimaryKey: pk.Name},
		strategy: cfg.Strategy,
		logger:   logger.With(zap.String("resource", name)),
	}, nil
}

func (b *Backend) Name() string           { return b.name }
func (b *Backend) PrimaryKey() PrimaryKey { return b.pk }
func (b *Backend) Model() Model           { return b.model }
func (b *Backend) Kind() SessionKind      { return b.strategy.Kind() }

// Open opens a request-scoped session. The caller must Close it.
func (b *Backend) Open(ctx context.Context) (SyncSession, error) {
	s, err := b.strategy.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s session: %w", b.strategy.Kind(), err)
	}
	return s, nil
}

// List returns records ordered by primary key, windowed by p.
func (b *Backend) List(ctx context.Context, s SyncSession, p Pagination) (out []Record, err error) {
	ctx, end := b.trace(ctx, "list")
	defer func() { end(err) }()

	return b.list(ctx, s, p)
}

func (b *Backend) list(ctx context.Context, s SyncSession, p Pagination) ([]Record, error) {
	rows, err := s.Execute(ctx, Statement{
		Op:      OpSelect,
		Model:   b.model,
		OrderBy: b.pk.Name,
		Offset:  p.Skip,
		Limit:   p.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", b.name, err)
	}
	for _, r := range rows {
		b.schema.Normalize(r)
	}
	if rows == nil {
		rows = []Record{}
	}
	return rows, nil
}

// Get returns the record with primary key key, or a *NotFoundError.
func (b *Backend) Get(ctx context.Context, s SyncSession, key any) (rec Record, err error) {
	ctx, end := b.trace(ctx, "get")
	defer func() { end(err) }()

	return b.get(ctx, s, key)
}

func (b *Backend) get(ctx context.Context, s SyncSession, key any) (Record, error) {
	one := 1
	rows, err := s.Execute(ctx, Statement{
		Op:    OpSelect,
		Model: b.model,
		Where: Record{b.pk.Name: key},
		Limit: &one,
	})
	if err != nil {
		return nil, fmt.Errorf("get %s %v: %w", b.name, key, err)
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{Key: key}
	}
	b.schema.Normalize(rows[0])
	return rows[0], nil
}

// Create persists in, commits and returns the reloaded record. A uniqueness
// violation rolls the transaction back and returns a *ConflictError.
func (b *Backend) Create(ctx context.Context, s SyncSession, in Record) (rec Record, err error) {
	ctx, end := b.trace(ctx, "create")
	defer func() { end(err) }()

	rec = in.Clone()
	if err := s.Add(ctx, b.model, rec); err != nil {
		return nil, b.abort(ctx, s, "create", err)
	}
	if err := s.Commit(ctx); err != nil {
		return nil, b.abort(ctx, s, "create", err)
	}
	if err := b.refresh(ctx, s, rec); err != nil {
		return nil, err
	}
	b.logger.Debug("created", zap.Any("key", rec[b.pk.Name]))
	return rec, nil
}

// Update applies to the stored record the fields of in that the record has,
// except the primary key. Fields the stored record lacks are ignored.
func (b *Backend) Update(ctx context.Context, s SyncSession, key any, in Record) (rec Record, err error) {
	ctx, end := b.trace(ctx, "update")
	defer func() { end(err) }()

	rec, err = b.get(ctx, s, key)
	if err != nil {
		return nil, err
	}

	changes := Record{}
	for k, v := range in {
		if k == b.pk.Name {
			continue
		}
		if _, ok := rec[k]; !ok {
			continue
		}
		changes[k] = v
		rec[k] = v
	}

	if len(changes) > 0 {
		_, err := s.Execute(ctx, Statement{
			Op:    OpUpdate,
			Model: b.model,
			Where: Record{b.pk.Name: key},
			Set:   changes,
		})
		if err != nil {
			return nil, b.abort(ctx, s, "update", err)
		}
	}
	if err := s.Commit(ctx); err != nil {
		return nil, b.abort(ctx, s, "update", err)
	}
	if err := b.refresh(ctx, s, rec); err != nil {
		return nil, err
	}
	b.logger.Debug("updated", zap.Any("key", key), zap.Int("fields", len(changes)))
	return rec, nil
}

// Delete removes the record with primary key key and returns its last known state.
func (b *Backend) Delete(ctx context.Context, s SyncSession, key any) (rec Record, err error) {
	ctx, end := b.trace(ctx, "delete")
	defer func() { end(err) }()

	rec, err = b.get(ctx, s, key)
	if err != nil {
		return nil, err
	}
	if err := s.Delete(ctx, b.model, rec); err != nil {
		return nil, b.abort(ctx, s, "delete", err)
	}
	if err := s.Commit(ctx); err != nil {
		return nil, b.abort(ctx, s, "delete", err)
	}
	b.logger.Debug("deleted", zap.Any("key", key))
	return rec, nil
}

// DeleteAll removes every record, commits and returns the (empty) unbounded listing.
func (b *Backend) DeleteAll(ctx context.Context, s SyncSession) (out []Record, err error) {
	ctx, end := b.trace(ctx, "delete_all")
	defer func() { end(err) }()

	if _, err := s.Execute(ctx, Statement{Op: OpDeleteAll, Model: b.model}); err != nil {
		return nil, b.abort(ctx, s, "delete all", err)
	}
	if err := s.Commit(ctx); err != nil {
		return nil, b.abort(ctx, s, "delete all", err)
	}
	b.logger.Debug("deleted all")
	return b.list(ctx, s, Pagination{})
}

func (b *Backend) refresh(ctx context.Context, s SyncSession, rec Record) error {
	if err := s.Refresh(ctx, b.model, rec); err != nil {
		if errors.Is(err, ErrNoRows) {
			return &NotFoundError{Key: rec[b.pk.Name]}
		}
		return fmt.Errorf("refresh %s: %w", b.name, err)
	}
	b.schema.Normalize(rec)
	return nil
}

// abort rolls back the open transaction before cause is surfaced. The rollback
// runs even if ctx was cancelled.
func (b *Backend) abort(ctx context.Context, s SyncSession, op string, cause error) error {
	if err := s.Rollback(context.WithoutCancel(ctx)); err != nil {
		b.logger.Error("rollback failed", zap.String("op", op), zap.Error(err), zap.NamedError("cause", cause))
		cause = errors.Join(cause, err)
	}
	metrics.Rollbacks.WithLabelValues(b.name).Inc()

	if errors.Is(cause, ErrUniqueViolation) {
		metrics.Conflicts.WithLabelValues(b.name, op).Inc()
		return &ConflictError{Err: cause}
	}
	return fmt.Errorf("%s %s: %w", op, b.name, cause)
}

func (b *Backend) trace(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "crud."+op, trace.WithAttributes(
		attribute.String("crud.resource", b.name),
		attribute.String("crud.session", b.strategy.Kind().String()),
	))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.Observe(b.name, op, outcome(err), start)
	}
}

func outcome(err error) string {
	var (
		nf *NotFoundError
		ce *ConflictError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &ce):
		return "conflict"
	}
	return "error"
}
