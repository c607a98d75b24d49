package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/cin7sync/internal/config"
	"github.com/JonMunkholm/cin7sync/internal/jobs"
	"github.com/JonMunkholm/cin7sync/internal/logging"
	"github.com/JonMunkholm/cin7sync/internal/metrics"
	"github.com/JonMunkholm/cin7sync/internal/store"
	"github.com/JonMunkholm/cin7sync/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"jobs_max_concurrent", cfg.Jobs.MaxConcurrent,
		"cin7_configured", cfg.Cin7.Configured(),
	)
	slog.Debug("configuration", "config", cfg.String())

	if !cfg.Database.Enabled() {
		slog.Error("DATABASE_URL is required to run the server")
		os.Exit(1)
	}

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	reg := metrics.NewRegistry()
	service := jobs.NewService(
		store.NewPostgres(pool),
		cfg.Cin7,
		cfg.Settings,
		cfg.Jobs,
		jobs.WithMetrics(reg),
		jobs.WithLogger(logger),
	)

	if !cfg.Cin7.Configured() {
		slog.Warn("Cin7 credentials not configured; validate, submit and ping will fail")
	}

	server := web.NewServer(service, cfg,
		web.WithLogger(logger),
		web.WithMetricsHandler(reg.Handler()),
	)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Jobs are not cancellable; let running batches finish
		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for submission jobs to complete", "active", status.Active)
			if err := service.WaitForJobs(shutdownCtx); err != nil {
				slog.Warn("submission jobs did not complete in time", "error", err)
			} else {
				slog.Info("all submission jobs completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
