package crud

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
)

// memStore is an in-memory table keyed by an int64 "id" with optional unique
// columns. Sessions stage writes on a copy of the rows and publish it on Commit.
type memStore struct {
	mu     sync.Mutex
	rows   map[int64]Record
	next   int64
	unique []string

	opened atomic.Int64
	closed atomic.Int64

	// failOn makes the named session call fail with the given error.
	failOn  string
	failErr error
	// block, when set, is awaited by Execute before it returns.
	block chan struct{}
}

func newMemStore(unique ...string) *memStore {
	return &memStore{rows: map[int64]Record{}, unique: unique}
}

func (st *memStore) OpenSync(context.Context) (SyncSession, error) {
	st.opened.Add(1)
	return &memSession{st: st}, nil
}

func (st *memStore) snapshot() map[int64]Record {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[int64]Record, len(st.rows))
	for k, v := range st.rows {
		out[k] = v.Clone()
	}
	return out
}

func (st *memStore) seed(recs ...Record) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, r := range recs {
		st.next++
		r = r.Clone()
		if _, ok := r["id"]; !ok {
			r["id"] = st.next
		}
		st.rows[r["id"].(int64)] = r
	}
}

type memSession struct {
	st     *memStore
	work   map[int64]Record
	closed bool
}

func (s *memSession) fail(call string) error {
	if s.st.failOn == call {
		return s.st.failErr
	}
	return nil
}

func (s *memSession) view() map[int64]Record {
	if s.work != nil {
		return s.work
	}
	return s.st.snapshot()
}

func (s *memSession) begin() map[int64]Record {
	if s.work == nil {
		s.work = s.st.snapshot()
	}
	return s.work
}

func (s *memSession) checkUnique(rows map[int64]Record, rec Record) error {
	for _, col := range s.st.unique {
		for id, other := range rows {
			if id != rec["id"] && other[col] == rec[col] {
				return errors.Join(ErrUniqueViolation, errors.New(col))
			}
		}
	}
	return nil
}

func matches(r, where Record) bool {
	for k, v := range where {
		if r[k] != v {
			return false
		}
	}
	return true
}

func (s *memSession) Execute(ctx context.Context, stmt Statement) ([]Record, error) {
	if s.st.block != nil {
		select {
		case <-s.st.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := s.fail("execute"); err != nil {
		return nil, err
	}

	switch stmt.Op {
	case OpSelect:
		var out []Record
		for _, r := range s.view() {
			if matches(r, stmt.Where) {
				out = append(out, r.Clone())
			}
		}
		slices.SortFunc(out, func(a, b Record) int { return int(a["id"].(int64) - b["id"].(int64)) })
		if stmt.Offset >= len(out) {
			return nil, nil
		}
		out = out[stmt.Offset:]
		if stmt.Limit != nil && *stmt.Limit < len(out) {
			out = out[:*stmt.Limit]
		}
		return out, nil

	case OpUpdate:
		rows := s.begin()
		for id, r := range rows {
			if !matches(r, stmt.Where) {
				continue
			}
			next := r.Clone()
			for k, v := range stmt.Set {
				next[k] = v
			}
			if err := s.checkUnique(rows, next); err != nil {
				return nil, err
			}
			rows[id] = next
		}
		return nil, nil

	case OpDeleteAll:
		clear(s.begin())
		return nil, nil
	}
	return nil, errors.New("unsupported")
}

func (s *memSession) Add(_ context.Context, _ Model, rec Record) error {
	if err := s.fail("add"); err != nil {
		return err
	}
	rows := s.begin()
	if id, ok := rec["id"].(int64); ok {
		if _, exists := rows[id]; exists {
			return ErrUniqueViolation
		}
	} else {
		s.st.mu.Lock()
		s.st.next++
		rec["id"] = s.st.next
		s.st.mu.Unlock()
	}
	if err := s.checkUnique(rows, rec); err != nil {
		return err
	}
	rows[rec["id"].(int64)] = rec.Clone()
	return nil
}

func (s *memSession) Delete(_ context.Context, _ Model, rec Record) error {
	rows := s.begin()
	id := rec["id"].(int64)
	if _, ok := rows[id]; !ok {
		return ErrNoRows
	}
	delete(rows, id)
	return nil
}

func (s *memSession) Refresh(_ context.Context, _ Model, rec Record) error {
	r, ok := s.view()[rec["id"].(int64)]
	if !ok {
		return ErrNoRows
	}
	clear(rec)
	for k, v := range r {
		rec[k] = v
	}
	return nil
}

func (s *memSession) Commit(context.Context) error {
	if err := s.fail("commit"); err != nil {
		return err
	}
	if s.work == nil {
		return nil
	}
	s.st.mu.Lock()
	s.st.rows = s.work
	s.st.mu.Unlock()
	s.work = nil
	return nil
}

func (s *memSession) Rollback(context.Context) error {
	s.work = nil
	return nil
}

func (s *memSession) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.st.closed.Add(1)
	return s.Rollback(ctx)
}
