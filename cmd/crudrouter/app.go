package crudrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/edgeflare/crudrouter/pkg/config"
	"github.com/edgeflare/crudrouter/pkg/crud"
	"github.com/edgeflare/crudrouter/pkg/httputil"
	mw "github.com/edgeflare/crudrouter/pkg/httputil/middleware"
	"github.com/edgeflare/crudrouter/pkg/orm"
	"github.com/edgeflare/crudrouter/pkg/pgx"
	"github.com/zitadel/oidc/v3/pkg/client/rs"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app is a configured router with the storage connections behind it.
type app struct {
	cfg        *config.Config
	router     *httputil.Router
	strategies map[string]crud.Strategy
	closers    []func()
	oidc       rs.ResourceServer
	logger     *zap.Logger
}

// newApp connects storage and registers every configured resource.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:        cfg,
		strategies: map[string]crud.Strategy{},
		logger:     logger,
	}
	if err := a.connect(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.router = httputil.NewRouter(
		httputil.WithPrefix(cfg.Server.BaseURL),
		httputil.WithServerOptions(func(s *http.Server) { s.ErrorLog = zap.NewStdLog(logger) }),
	)
	a.router.Use(mw.RequestID, mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger}))
	if cfg.Server.CORSEnabled {
		opts := mw.DefaultCORSOptions()
		opts.AllowedOrigins = cfg.Server.AllowedOrigins
		a.router.Use(mw.CORSWithOptions(opts))
	}
	a.router.Handle("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))

	for _, rc := range cfg.Resources {
		g, err := a.generator(ctx, rc)
		if err != nil {
			a.close()
			return nil, err
		}
		g.Register(a.router)
		logger.Info("serving resource",
			zap.String("resource", rc.Name),
			zap.String("prefix", cfg.Server.BaseURL+g.Prefix()),
			zap.Stringer("session", g.Backend().Kind()),
		)
	}
	return a, nil
}

// connect opens the default connection and every named one. The pgx driver
// serves async sessions from a PoolManager; postgres and sqlite serve sync
// sessions through gorm.
func (a *app) connect(ctx context.Context) error {
	conns := map[string]string{config.DefaultConnection: a.cfg.Storage.DSN}
	for name, dsn := range a.cfg.Storage.Connections {
		conns[name] = dsn
	}

	switch a.cfg.Storage.Driver {
	case config.DriverPgx:
		pm := pgx.NewPoolManager(
			pgx.WithConnectTimeout(a.cfg.Storage.ConnectTimeout),
			pgx.WithPoolLogger(a.logger),
		)
		a.closers = append(a.closers, pm.Close)
		for name, dsn := range conns {
			err := pm.Add(ctx, pgx.Pool{Name: name, ConnString: dsn, Default: name == config.DefaultConnection})
			if err != nil {
				return err
			}
			pool, err := pm.Get(name)
			if err != nil {
				return err
			}
			a.strategies[name] = crud.Async(pgx.NewProvider(pool))
		}

	case config.DriverPostgres, config.DriverSQLite:
		for name, dsn := range conns {
			db, err := orm.Open(ctx, a.cfg.Storage.Driver, dsn, orm.Options{
				Logger:         a.logger.Named("gorm"),
				ConnectTimeout: a.cfg.Storage.ConnectTimeout,
			})
			if err != nil {
				return fmt.Errorf("connection %q: %w", name, err)
			}
			a.closers = append(a.closers, func() { closeDB(db, a.logger) })
			a.strategies[name] = crud.Sync(orm.NewProvider(db))
		}

	default:
		return fmt.Errorf("unsupported storage driver %q", a.cfg.Storage.Driver)
	}
	return nil
}

func closeDB(db *gorm.DB, logger *zap.Logger) {
	if err := orm.Close(db); err != nil {
		logger.Warn("closing database", zap.Error(err))
	}
}

func (a *app) generator(ctx context.Context, rc config.ResourceConfig) (*crud.Generator, error) {
	s, err := rc.Schema()
	if err != nil {
		return nil, err
	}
	strategy, ok := a.strategies[rc.ConnectionName()]
	if !ok {
		return nil, fmt.Errorf("resource %q: unknown connection %q", rc.Name, rc.Connection)
	}

	opts := []crud.Option{
		crud.WithMaxLimit(rc.MaxLimit),
		crud.WithLogger(a.logger),
	}
	if rc.Prefix != "" {
		opts = append(opts, crud.WithPrefix(rc.Prefix))
	}
	if rc.Table != "" {
		opts = append(opts, crud.WithTable(rc.Table))
	}
	if rc.PrimaryKey != "" {
		opts = append(opts, crud.WithPrimaryKey(rc.PrimaryKey))
	}

	for _, e := range crud.Endpoints {
		route := rc.Route(e)
		if route.Disabled {
			opts = append(opts, crud.Disable(e))
			continue
		}
		for _, guard := range route.Guards {
			m, err := a.guard(ctx, guard, route)
			if err != nil {
				return nil, fmt.Errorf("resource %q %s: %w", rc.Name, e, err)
			}
			opts = append(opts, crud.WithGuards(e, m))
		}
	}

	return crud.New(s, strategy, opts...)
}

func (a *app) guard(ctx context.Context, name string, route config.RouteConfig) (httputil.Middleware, error) {
	switch name {
	case config.GuardBasic:
		return mw.VerifyBasicAuth(mw.BasicAuthCreds(a.cfg.Auth.Basic.Credentials)), nil
	case config.GuardOIDC:
		if a.oidc == nil {
			server, err := mw.NewResourceServer(ctx, mw.OIDCProviderConfig{
				ClientID:     a.cfg.Auth.OIDC.ClientID,
				ClientSecret: a.cfg.Auth.OIDC.ClientSecret,
				Issuer:       a.cfg.Auth.OIDC.Issuer,
			})
			if err != nil {
				return nil, err
			}
			a.oidc = server
		}
		return mw.VerifyOIDCToken(a.oidc, mw.RequireScopes(route.Scopes...)), nil
	}
	return nil, errors.New("unknown guard " + name)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
