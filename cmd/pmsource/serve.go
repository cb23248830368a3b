package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/http/api"
	"github.com/t0270293/uk-source-attribution-fcm/internal/adapters/http/swagger"
	service "github.com/t0270293/uk-source-attribution-fcm/internal/app"
	"github.com/t0270293/uk-source-attribution-fcm/pkg/logger"
	"github.com/t0270293/uk-source-attribution-fcm/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 30 * time.Second
	writeTimeout          = 30 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr       string
		jobTimeout time.Duration
		params     paramFlags
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP analysis service",
		Long: `Start the HTTP service. Endpoints:
  POST /analyses        submit a JSON or CSV analysis request
  GET  /analyses/{id}   fetch a run record
  GET  /stats           service statistics
  GET  /healthz         Prometheus metrics
  GET  /api-docs        API reference`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := params.apply(cmd.Flags(), a.cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, jobTimeout)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&addr, "addr", ":9080", "listen address")
	fs.DurationVar(&jobTimeout, "job-timeout", 0, "abort an analysis after this long (0: no limit)")
	params.register(fs)
	return cmd
}

func (a *app) serve(ctx context.Context, jobTimeout time.Duration) error {
	cfg := a.cfg
	svc := service.New(
		service.WithLogger(a.log),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithStoreSize(cfg.StoreSize),
		service.WithJobTimeout(jobTimeout),
		service.WithDefaults(cfg.AnalysisParams()),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)

	mux := http.NewServeMux()
	if err := swagger.Register(mux); err != nil {
		return err
	}
	api.NewServer(svc, svc).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.log.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error(ctx, "server shutdown failed", logger.Error(err))
		return err
	}
	a.log.Info(ctx, "server stopped")
	return nil
}

func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	metrics.UpdateSystemMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateSystemMetrics()
		}
	}
}
