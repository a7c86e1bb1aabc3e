package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/cradlehost/cradle/cmd/api/api"
	"github.com/cradlehost/cradle/cmd/api/config"
	"github.com/cradlehost/cradle/lib/cgroup"
	"github.com/cradlehost/cradle/lib/guest"
	mw "github.com/cradlehost/cradle/lib/middleware"
	"github.com/cradlehost/cradle/lib/network"
	"github.com/cradlehost/cradle/lib/otel"
	"github.com/cradlehost/cradle/lib/paths"
	cradleruntime "github.com/cradlehost/cradle/lib/runtime"
	"github.com/cradlehost/cradle/lib/snapshot"
	"github.com/cradlehost/cradle/lib/storage"
	"github.com/cradlehost/cradle/lib/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
	slog.Info("main() exiting normally")
}

func run() error {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry before anything records a metric
	otelCfg := otel.Config{
		Enabled:           cfg.OtelEnabled,
		Endpoint:          cfg.OtelEndpoint,
		ServiceName:       cfg.OtelServiceName,
		ServiceInstanceID: cfg.OtelServiceInstanceID,
		Insecure:          cfg.OtelInsecure,
		Version:           cfg.Version,
		Env:               cfg.Env,
	}
	otelProvider, otelShutdown, err := otel.Init(context.Background(), otelCfg)
	if err != nil {
		// Log warning but don't fail - graceful degradation
		logger.Warn("failed to initialize OpenTelemetry, continuing without telemetry", "error", err)
	}
	if otelShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				logger.Warn("error shutting down OpenTelemetry", "error", err)
			}
		}()
	}
	if otelProvider != nil && otelProvider.Meter != nil {
		if m, err := snapshot.NewMetrics(otelProvider.Meter); err == nil {
			snapshot.SetMetrics(m)
		}
		if m, err := network.NewMetrics(otelProvider.Meter); err == nil {
			network.SetMetrics(m)
		}
	}

	if cfg.JwtSecret == "" {
		logger.Warn("JWT_SECRET not configured - API authentication will fail")
	}

	// Wire the managers
	p := paths.New(cfg.DataDir)
	st := store.NewStore(p, store.NewLockTable(), store.WithLockTimeout(cfg.LockTimeout))
	backend := storage.NewZFS(cfg.ZFSPool)
	channel := cradleruntime.NewLXCChannel()

	engine := snapshot.NewEngine(st, backend, channel)
	reconciler := network.NewReconciler(st, network.NewHostNet(), channel, guest.NewDebianSetup())

	adapter, err := cgroup.NewAdapter(channel)
	if err != nil {
		return fmt.Errorf("initialize cgroup adapter: %w", err)
	}

	service := api.New(cfg, st, engine, reconciler, adapter, channel)

	// Router
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(mw.InjectLogger(logger))
	r.Use(mw.AccessLogger(logger))

	r.Get("/health", service.GetHealth)

	r.Group(func(r chi.Router) {
		if otelProvider != nil && otelProvider.Meter != nil {
			if httpMetrics, err := mw.NewHTTPMetrics(otelProvider.Meter); err == nil {
				r.Use(httpMetrics.Middleware)
			}
		}
		r.Use(mw.JwtAuth(cfg.JwtSecret))
		service.Routes(r)
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api server listening", "addr", server.Addr, "data_dir", cfg.DataDir, "pool", cfg.ZFSPool)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
