package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/goreconcile/pkg/api"
	"github.com/mihaimyh/goreconcile/pkg/config"
	"github.com/mihaimyh/goreconcile/pkg/reconcile"
	reconcilezerolog "github.com/mihaimyh/goreconcile/pkg/reconcile/logger/zerolog"
	prommetrics "github.com/mihaimyh/goreconcile/pkg/reconcile/metrics/prometheus"
)

const (
	shutdownTimeout        = 15 * time.Second
	metricsShutdownTimeout = 5 * time.Second
	processTimeout         = 20 * time.Second
	metricsNamespace       = "webhookd"
)

// app holds the wired components of a running server.
type app struct {
	reconciler *reconcile.Reconciler
	handler    *api.Handler
	directory  reconcile.AccountDirectory
	cleanup    func()
}

// buildApp wires configuration into a reconciler and webhook handler.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*app, error) {
	metrics := prommetrics.NewMetrics(reg, metricsNamespace)
	rlog := reconcilezerolog.NewLogger(logger)

	dir, cleanup, err := openDirectory(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	guarded := withCircuitBreaker(dir, cfg.DirectoryBreakerThreshold, metrics, logger)

	dispatcher, err := newDispatcher(cfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	rec, err := reconcile.New(reconcile.Config{
		Catalog:                 cfg.PlanCatalog,
		Directory:               guarded,
		Credentials:             cfg.CredentialStrategy(),
		Dispatcher:              dispatcher,
		NotificationTimeout:     cfg.NotifyTimeout,
		NotificationConcurrency: int64(cfg.NotifyConcurrency),
		Logger:                  rlog,
		Metrics:                 metrics,
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	handler, err := api.NewHandler(api.Config{
		Reconciler:     rec,
		Logger:         rlog,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		ProcessTimeout: processTimeout,
		RateLimit:      cfg.RateLimitPerMinute,
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	return &app{reconciler: rec, handler: handler, directory: dir, cleanup: cleanup}, nil
}

// router mounts the webhook and health endpoints.
func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/webhook", a.handler.WebhookHandler())
	r.Get("/healthz", a.healthz)
	return r
}

func (a *app) healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := a.directory.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			http.Error(w, "directory unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func runServer(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := initLogger(cfg.LogLevel, cfg.LogFormat, nil)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start webhookd")
		return err
	}
	defer a.cleanup()

	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr, logger)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Addr).
			Str("storage", cfg.Storage).
			Str("email", cfg.EmailProvider).
			Str("version", Version).
			Msg("Webhook server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("Webhook server stopped unexpectedly")
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down webhook server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to shut down webhook server cleanly")
	}
	if err := a.reconciler.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Pending welcome notifications abandoned")
	}
	return nil
}

func startMetricsServer(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Msg("Failed to shut down metrics server cleanly")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Msg("Metrics server stopped unexpectedly")
		}
	}()
}
