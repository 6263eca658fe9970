package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-insights/pkg/analytics"
	"github.com/ekaya-inc/ekaya-insights/pkg/config"
	"github.com/ekaya-inc/ekaya-insights/pkg/database"
	"github.com/ekaya-inc/ekaya-insights/pkg/handlers"
	"github.com/ekaya-inc/ekaya-insights/pkg/middleware"
	"github.com/ekaya-inc/ekaya-insights/pkg/queries"
	"github.com/ekaya-inc/ekaya-insights/pkg/requestctx"
	"github.com/ekaya-inc/ekaya-insights/pkg/services"
	"github.com/ekaya-inc/ekaya-insights/pkg/sql"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  "Start the HTTP server. Configuration comes from config.yaml in the working directory and environment variables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), version)
		},
	}
}

func runServe(ctx context.Context, version string) error {
	cfg, err := config.Load(version)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database", cfg.Database.User+"@"+cfg.Database.Host+"/"+cfg.Database.Database),
		zap.Bool("analytics_configured", cfg.Analytics.IsAvailable()),
		zap.Bool("strict_placeholders", cfg.Templates.StrictPlaceholders),
		zap.String("default_timezone", cfg.Templates.DefaultTimezone),
		zap.Int("rate_limit_requests", cfg.RateLimit.Requests))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:              cfg.Database.ConnectionString(),
		MaxConnections:   cfg.Database.MaxConnections,
		MinConnections:   cfg.Database.MaxIdleConns,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	catalog, err := queries.Load()
	if err != nil {
		return fmt.Errorf("failed to load report catalog: %w", err)
	}
	logger.Info("Report catalog loaded", zap.Int("reports", len(catalog.List())))

	rendererCfg := sql.RendererConfig{Strict: cfg.Templates.StrictPlaceholders}
	reportService := services.NewReportService(
		catalog,
		sql.NewRenderer(rendererCfg, logger),
		analytics.NewRenderer(rendererCfg, logger),
		database.NewRunner(db, logger),
		analytics.NewClient(cfg.Analytics.ClientConfig(), logger),
		services.NewWorkerPool(services.WorkerPoolConfig{MaxConcurrent: cfg.BatchConcurrency}, logger),
		logger,
	)

	mux := http.NewServeMux()

	// Register handlers
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewReportsHandler(reportService, logger.Named("reports-handler")).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = requestctx.WithRequestScope(cfg.Templates.DefaultTimezone, logger)(handler)
	handler = middleware.RateLimit(middleware.RateLimitConfig{
		Requests:   cfg.RateLimit.Requests,
		Window:     cfg.RateLimit.Window,
		PathPrefix: "/api/",
	}, logger.Named("ratelimit"))(handler)
	handler = middleware.RequestLogger(logger.Named("http"))(handler)
	handler = middleware.RequestID()(handler)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-insights",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("tls", cfg.TLSCertPath != ""))

		var err error
		if cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// newLogger returns a development logger for local runs and a JSON
// production logger everywhere else.
func newLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "test" {
		logConfig := zap.NewDevelopmentConfig()
		logConfig.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		return logConfig.Build()
	}
	return zap.NewProduction()
}
