// Package orm stores resources through gorm. Its Session is a blocking
// crud.SyncSession; Open connects to PostgreSQL or SQLite.
package orm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options configures Open.
type Options struct {
	Logger *zap.Logger
	// ConnectTimeout bounds how long Open retries an unreachable database. 0 tries once.
	ConnectTimeout time.Duration
	// SlowThreshold is the duration above which statements are logged as slow.
	SlowThreshold time.Duration
	// MaxOpenConns limits the pool when positive.
	MaxOpenConns int
}

// Open connects to the database named by driver ("postgres" or "sqlite") and dsn.
func Open(ctx context.Context, driver, dsn string, opts Options) (*gorm.DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("orm: unsupported driver %q", driver)
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if opts.ConnectTimeout > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = opts.ConnectTimeout
		b = eb
	}

	attempt := 0
	db, err := backoff.RetryWithData(func() (*gorm.DB, error) {
		attempt++
		db, err := gorm.Open(dialector, &gorm.Config{
			TranslateError: true,
			Logger:         NewLogger(logger.Named("gorm"), opts.SlowThreshold),
		})
		if err != nil {
			logger.Warn("database not reachable", zap.String("driver", driver), zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}
		return db, nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("orm: open %s: %w", driver, err)
	}

	if opts.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("orm: %w", err)
		}
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	return db, nil
}

// Close closes the connection pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate wraps gorm and driver errors in the crud sentinels they correspond to.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey),
		errors.As(err, &pgErr) && pgErr.Code == "23505",
		strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %w", crud.ErrUniqueViolation, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %w", crud.ErrNoRows, err)
	}
	return err
}
