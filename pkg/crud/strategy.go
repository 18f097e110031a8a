package crud

import "context"

// SessionKind tells which session variant a Strategy opens.
type SessionKind int

const (
	KindSync SessionKind = iota
	KindAsync
)

func (k SessionKind) String() string {
	if k == KindAsync {
		return "async"
	}
	return "sync"
}

// Strategy opens request-scoped sessions of one variant and presents them to the
// Backend through the blocking SyncSession contract. It is chosen once, when the
// Backend is built; operations never inspect the session variant.
type Strategy interface {
	Kind() SessionKind
	Open(ctx context.Context) (SyncSession, error)
}

// Sync returns the Strategy for providers of blocking sessions.
func Sync(p SyncProvider) Strategy { return syncStrategy{p} }

// Async returns the Strategy for providers of future-returning sessions. Every
// future is awaited on the calling request's context, so a cancelled request stops
// waiting on storage as soon as its context is done.
func Async(p AsyncProvider) Strategy { return asyncStrategy{p} }

type syncStrategy struct{ p SyncProvider }

func (syncStrategy) Kind() SessionKind { return KindSync }

func (s syncStrategy) Open(ctx context.Context) (SyncSession, error) {
	return s.p.OpenSync(ctx)
}

type asyncStrategy struct{ p AsyncProvider }

func (asyncStrategy) Kind() SessionKind { return KindAsync }

func (s asyncStrategy) Open(ctx context.Context) (SyncSession, error) {
	sess, err := s.p.OpenAsync(ctx)
	if err != nil {
		return nil, err
	}
	return awaiter{sess}, nil
}

// awaiter adapts an AsyncSession to SyncSession by awaiting each future.
type awaiter struct{ s AsyncSession }

func (a awaiter) Execute(ctx context.Context, stmt Statement) ([]Record, error) {
	return a.s.Execute(ctx, stmt).Await(ctx)
}

func (a awaiter) Add(ctx context.Context, m Model, rec Record) error {
	_, err := a.s.Add(ctx, m, rec).Await(ctx)
	return err
}

func (a awaiter) Delete(ctx context.Context, m Model, rec Record) error {
	_, err := a.s.Delete(ctx, m, rec).Await(ctx)
	return err
}

func (a awaiter) Refresh(ctx context.Context, m Model, rec Record) error {
	_, err := a.s.Refresh(ctx, m, rec).Await(ctx)
	return err
}

func (a awaiter) Commit(ctx context.Context) error {
	_, err := a.s.Commit(ctx).Await(ctx)
	return err
}

func (a awaiter) Rollback(ctx context.Context) error {
	_, err := a.s.Rollback(ctx).Await(ctx)
	return err
}

func (a awaiter) Close(ctx context.Context) error {
	return a.s.Close(ctx)
}
