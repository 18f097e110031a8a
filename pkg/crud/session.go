package crud

import (
	"context"
	"sync"
)

// Record is the flat field->value representation of a stored resource instance.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Model identifies the storage table behind a resource and its primary key column.
type Model struct {
	// Table may be schema-qualified, eg "inventory.potatoes".
	Table      string
	PrimaryKey string
}

// Operation is the kind of statement a session executes.
type Operation int

const (
	OpSelect Operation = iota
	OpUpdate
	OpDeleteAll
)

// Statement is a storage-agnostic query against one Model.
type Statement struct {
	Op    Operation
	Model Model
	// Where holds equality conditions, joined with AND.
	Where Record
	// Set holds the column assignments of an OpUpdate.
	Set Record
	// OrderBy names a column sorted ascending.
	OrderBy string
	Offset  int
	// Limit caps the number of selected rows; nil means unbounded.
	Limit *int
}

// SyncSession is a request-scoped storage session whose calls block the calling goroutine.
//
// Writes run inside a transaction the session begins on demand. Add fills rec with
// the values storage assigned (eg a generated key). Refresh reloads rec in place
// and fails with ErrNoRows if it no longer exists. Close releases the session,
// rolling back any transaction still open.
type SyncSession interface {
	Execute(ctx context.Context, stmt Statement) ([]Record, error)
	Add(ctx context.Context, m Model, rec Record) error
	Delete(ctx context.Context, m Model, rec Record) error
	Refresh(ctx context.Context, m Model, rec Record) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

// AsyncSession offers the SyncSession capability set with every storage call
// returning a Future instead of blocking. Close is synchronous: it waits for any
// in-flight call before releasing the session.
type AsyncSession interface {
	Execute(ctx context.Context, stmt Statement) *Future[[]Record]
	Add(ctx context.Context, m Model, rec Record) *Future[struct{}]
	Delete(ctx context.Context, m Model, rec Record) *Future[struct{}]
	Refresh(ctx context.Context, m Model, rec Record) *Future[struct{}]
	Commit(ctx context.Context) *Future[struct{}]
	Rollback(ctx context.Context) *Future[struct{}]
	Close(ctx context.Context) error
}

// SyncProvider opens one SyncSession per request.
type SyncProvider interface {
	OpenSync(ctx context.Context) (SyncSession, error)
}

// AsyncProvider opens one AsyncSession per request.
type AsyncProvider interface {
	OpenAsync(ctx context.Context) (AsyncSession, error)
}

// Future is the pending result of an AsyncSession call.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn on a new goroutine and returns its Future.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = fn()
	}()
	return f
}

// Resolved returns an already completed Future.
func Resolved[T any](val T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), val: val, err: err}
	close(f.done)
	return f
}

// Await blocks until the Future completes or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Background presents a SyncSession as an AsyncSession, running each call on its
// own goroutine. Calls are serialized; Close waits for the running one.
func Background(s SyncSession) AsyncSession {
	return &background{s: s}
}

// BackgroundProvider is the provider counterpart of Background.
func BackgroundProvider(p SyncProvider) AsyncProvider {
	return backgroundProvider{p}
}

type backgroundProvider struct{ SyncProvider }

func (p backgroundProvider) OpenAsync(ctx context.Context) (AsyncSession, error) {
	s, err := p.OpenSync(ctx)
	if err != nil {
		return nil, err
	}
	return Background(s), nil
}

type background struct {
	s  SyncSession
	mu sync.Mutex
}

func (b *background) run(fn func() error) *Future[struct{}] {
	return Go(func() (struct{}, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		return struct{}{}, fn()
	})
}

func (b *background) Execute(ctx context.Context, stmt Statement) *Future[[]Record] {
	return Go(func() ([]Record, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.s.Execute(ctx, stmt)
	})
}

func (b *background) Add(ctx context.Context, m Model, rec Record) *Future[struct{}] {
	return b.run(func() error { return b.s.Add(ctx, m, rec) })
}

func (b *background) Delete(ctx context.Context, m Model, rec Record) *Future[struct{}] {
	return b.run(func() error { return b.s.Delete(ctx, m, rec) })
}

func (b *background) Refresh(ctx context.Context, m Model, rec Record) *Future[struct{}] {
	return b.run(func() error { return b.s.Refresh(ctx, m, rec) })
}

func (b *background) Commit(ctx context.Context) *Future[struct{}] {
	return b.run(func() error { return b.s.Commit(ctx) })
}

func (b *background) Rollback(ctx context.Context) *Future[struct{}] {
	return b.run(func() error { return b.s.Rollback(ctx) })
}

func (b *background) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s.Close(ctx)
}
