package crudrouter

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/edgeflare/crudrouter/pkg/config"
	"github.com/edgeflare/crudrouter/pkg/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the CRUD API server",
	Long:    `Connects the configured storage and serves the generated endpoints of every configured resource`,
	RunE:    runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("server.listenAddr", "l", "", "server listen address")
	f.String("server.baseURL", "", "path every resource is mounted under, eg /api/v1")
	f.Bool("server.corsEnabled", false, "answer CORS requests")
	f.StringP("storage.driver", "d", "", "storage driver (pgx, postgres, sqlite)")
	f.StringP("storage.dsn", "c", "", "connection string of the default connection")
	f.Bool("metrics.enabled", false, "serve Prometheus metrics")
	f.String("metrics.addr", "", "metrics server listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Addr:   cfg.Metrics.Addr,
			Path:   cfg.Metrics.Path,
			Logger: logger,
		})
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Server.ListenAddr), zap.String("version", config.Version))
		if err := a.router.ListenAndServe(cfg.Server.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err = <-errChan:
		stop()
	case <-ctx.Done():
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if serr := a.router.Shutdown(shutdownCtx); serr != nil {
			err = serr
		}
	}

	wg.Wait()
	if err == nil {
		logger.Info("server gracefully stopped")
	}
	return err
}
