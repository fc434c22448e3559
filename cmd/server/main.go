package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"synchro/backend/internal/api"
	"synchro/backend/internal/auth"
	"synchro/backend/internal/config"
	"synchro/backend/internal/logging"
	"synchro/backend/internal/mcp"
	"synchro/backend/internal/repository"
	"synchro/backend/internal/services"
)

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "synchro-server",
		Short: "Synchro video analysis backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(envFile)
		},
	}
	rootCmd.Flags().StringVar(&envFile, "env", "", "Path to .env file")

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(envFile string) error {
	ctx := context.Background()

	logger := logging.NewLogger()
	defer logger.Sync()

	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"max_daily_requests", cfg.RateLimit.MaxDailyRequests,
		"reset_hour_utc", cfg.RateLimit.ResetHourUTC,
		"models", cfg.Gemini.Models,
	)

	logger.Info("Starting Synchro analysis service")

	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	defer dbPool.Close()

	if err := repository.Migrate(ctx, dbPool); err != nil {
		return fmt.Errorf("schema bootstrap failed: %w", err)
	}
	logger.Info("Database connected")

	repo := repository.NewPostgresRepository(dbPool)

	media, err := services.NewMinioMediaStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	if err := media.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("storage bucket check failed: %w", err)
	}

	extractor := services.NewFFmpegExtractor(logger)
	vision := services.NewGeminiClient(cfg.Gemini.APIKey, cfg.Gemini.BaseURL, cfg.Gemini.Models, logger)
	limiter := services.NewRateLimiter(repo, cfg.RateLimit)
	access := services.NewAccessResolver(repo)
	analyzer := services.NewAnalysisService(repo, extractor, vision, media, limiter, logger,
		cfg.Analysis.MaxFrames, cfg.Analysis.Workers)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	analyzer.Start(workerCtx)

	logger.Info("Service layer initialized", "workers", cfg.Analysis.Workers)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("synchro-backend"))

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	apiServer := api.NewServer(repo, analyzer, limiter, access, logger)

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, apiServer)

	e.GET("/healthz", apiServer.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info("REST API handlers mounted")

	// MCP shares the API's auth gate; tool handlers read the verified user
	// id from the request context.
	mcpServer := mcp.NewServer(repo, access)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))
	e.Any("/mcp", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))

	logger.Info("MCP protocol handlers mounted")

	server := &http.Server{
		Addr:         ":8080",
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		// let in-flight analyses finish before exiting
		analyzer.Stop()

		logger.Info("Server stopped gracefully")
	}

	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
