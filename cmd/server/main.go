// Package main is the entrypoint for the ocrhub API server.
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

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/anupkhanal/ocrhub/internal/api"
	"github.com/anupkhanal/ocrhub/internal/api/handler"
	mw "github.com/anupkhanal/ocrhub/internal/api/middleware"
	"github.com/anupkhanal/ocrhub/internal/api/response"
	"github.com/anupkhanal/ocrhub/internal/cache"
	"github.com/anupkhanal/ocrhub/internal/config"
	"github.com/anupkhanal/ocrhub/internal/document"
	"github.com/anupkhanal/ocrhub/internal/job"
	"github.com/anupkhanal/ocrhub/internal/pipeline"
	"github.com/anupkhanal/ocrhub/internal/ratelimit"
	"github.com/anupkhanal/ocrhub/internal/recognize"
	"github.com/anupkhanal/ocrhub/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config. A missing .env is fine, the environment wins either way.
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "workers", cfg.Extract.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. External collaborators: the page rasterizer and the recognition engine
	rasterizer := document.NewPopplerRasterizer()
	if err := rasterizer.Available(); err != nil {
		return fmt.Errorf("rasterizer unavailable: %w", err)
	}

	engine := recognize.NewTesseract(cfg.OCR.Languages, cfg.OCR.MinConfidence,
		cfg.OCR.MaxImageWidth, cfg.OCR.MaxImageHeight)
	slog.Info("recognition engine ready", "languages", cfg.OCR.Languages)

	// 6. On-disk spool for staged documents, with a periodic janitor
	spool, err := document.NewSpool(cfg.Spool.Dir)
	if err != nil {
		return fmt.Errorf("create spool: %w", err)
	}

	janitor := cron.New()
	if _, err := janitor.AddFunc(cfg.Spool.SweepSchedule, func() {
		n, err := spool.Sweep(cfg.Spool.SweepAge)
		if err != nil {
			slog.Warn("spool sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("spool swept", "removed", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule spool sweep: %w", err)
	}
	janitor.Start()
	defer janitor.Stop()

	// 7. Pipeline wiring
	pgStore := store.NewPostgresStore(pool)
	registry := job.NewRegistry(redisCache, cfg.Redis.JobTTL)
	results := cache.NewResultCache(redisCache, cfg.Redis.ResultTTL,
		cfg.Extract.LockWait, cfg.Extract.LockLease)
	workers := pipeline.NewPool(cfg.Extract.Workers)
	defer workers.Close()
	scheduler := pipeline.NewScheduler(registry, workers, rasterizer, engine, spool)
	svc := pipeline.NewService(registry, results, scheduler, engine, cfg.Extract)

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	limiter := ratelimit.New(redisCache, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowLength)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: mw.NewRateLimit(limiter),

		HealthHandler: healthHandler(pgStore, redisCache),

		SubmitImageHandler:     handler.NewSubmitImageHandler(svc),
		SubmitPDFHandler:       handler.NewSubmitPDFHandler(svc, false),
		SubmitHybridPDFHandler: handler.NewSubmitPDFHandler(svc, true),

		JobStatusHandler: handler.NewJobStatusHandler(registry),
		JobResultHandler: handler.NewJobResultHandler(registry),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
