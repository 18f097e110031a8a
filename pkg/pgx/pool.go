package pgx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolManager holds the named connection pools resources are served from.
// The first pool added becomes the default unless another is marked so.
type PoolManager struct {
	pools  map[string]*pgxpool.Pool
	def    string
	retry  func() backoff.BackOff
	logger *zap.Logger
	mu     sync.RWMutex
}

// Pool represents a named connection configuration.
type Pool struct {
	Config     *pgxpool.Config // Takes precedence over ConnString
	Name       string
	ConnString string // Used if Config is nil
	Default    bool
}

var (
	ErrPoolNotFound      = errors.New("connection pool not found")
	ErrPoolAlreadyExists = errors.New("connection pool already exists")
	ErrNoDefaultPool     = errors.New("no default connection pool")
)

// PoolManagerOption configures a PoolManager.
type PoolManagerOption func(*PoolManager)

// WithConnectTimeout bounds how long Add keeps retrying an unreachable database.
// 0 disables retries.
func WithConnectTimeout(d time.Duration) PoolManagerOption {
	return func(m *PoolManager) {
		m.retry = func() backoff.BackOff {
			if d <= 0 {
				return &backoff.StopBackOff{}
			}
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = d
			return b
		}
	}
}

// WithPoolLogger sets the logger used to report connection attempts.
func WithPoolLogger(l *zap.Logger) PoolManagerOption {
	return func(m *PoolManager) { m.logger = l }
}

// NewPoolManager returns an empty PoolManager. Without WithConnectTimeout, Add
// retries for up to 30 seconds.
func NewPoolManager(opts ...PoolManagerOption) *PoolManager {
	m := &PoolManager{
		pools:  make(map[string]*pgxpool.Pool),
		logger: zap.NewNop(),
	}
	WithConnectTimeout(30 * time.Second)(m)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add connects a new pool, retrying until the database answers a ping or the
// connect timeout elapses.
func (m *PoolManager) Add(ctx context.Context, cfg Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[cfg.Name]; ok {
		return ErrPoolAlreadyExists
	}

	pool, err := m.connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("pgx: pool %q: %w", cfg.Name, err)
	}
	m.pools[cfg.Name] = pool

	if cfg.Default || m.def == "" {
		m.def = cfg.Name
	}
	return nil
}

// Get returns a connection pool by name. An empty name selects the default pool.
func (m *PoolManager) Get(name string) (*pgxpool.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if name == "" {
		if m.def == "" {
			return nil, ErrNoDefaultPool
		}
		name = m.def
	}
	pool, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPoolNotFound, name)
	}
	return pool, nil
}

// Default returns the default connection pool.
func (m *PoolManager) Default() (*pgxpool.Pool, error) {
	return m.Get("")
}

// Remove closes and removes a connection pool.
func (m *PoolManager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrPoolNotFound, name)
	}

	pool.Close()
	delete(m.pools, name)

	if m.def == name {
		m.def = ""
		if names := m.names(); len(names) > 0 {
			m.def = names[0]
		}
	}
	return nil
}

// Close closes all connection pools.
func (m *PoolManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pools {
		p.Close()
	}
	clear(m.pools)
	m.def = ""
}

// List returns all pool names, sorted.
func (m *PoolManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.names()
}

func (m *PoolManager) names() []string {
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *PoolManager) connect(ctx context.Context, cfg Pool) (*pgxpool.Pool, error) {
	config := cfg.Config
	if config == nil {
		if cfg.ConnString == "" {
			return nil, errors.New("either Config or ConnString must be provided")
		}
		var err error
		if config, err = pgxpool.ParseConfig(cfg.ConnString); err != nil {
			return nil, fmt.Errorf("parse connection string: %w", err)
		}
	}

	attempt := 0
	op := func() (*pgxpool.Pool, error) {
		attempt++
		pool, err := pgxpool.NewWithConfig(ctx, config)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("creating pool: %w", err))
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			m.logger.Warn("database not reachable",
				zap.String("pool", cfg.Name), zap.Int("attempt", attempt), zap.Error(err))
			return nil, fmt.Errorf("ping: %w", err)
		}
		return pool, nil
	}

	pool, err := backoff.RetryWithData(op, backoff.WithContext(m.retry(), ctx))
	if err != nil {
		return nil, err
	}
	m.logger.Info("connected", zap.String("pool", cfg.Name), zap.String("host", config.ConnConfig.Host))
	return pool, nil
}
