package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hawkerops/menu-sync/config"
	"github.com/hawkerops/menu-sync/internal/database"
	"github.com/hawkerops/menu-sync/internal/handlers"
	"github.com/hawkerops/menu-sync/internal/pipeline"
	"github.com/hawkerops/menu-sync/internal/restosuite"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	logger.Info().Msg("Starting menu-sync server")

	dbURL := config.GetDatabaseURL()
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL not set")
	}

	ctx := context.Background()
	if err := database.Connect(
		ctx,
		dbURL,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.MaxConnLifetime,
		cfg.Database.MaxConnIdleTime,
	); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	logger.Info().Msg("Database connected")

	shared, err := cfg.NewSharedCache()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize shared cache")
	}

	schedulerStop := make(chan struct{})
	if cfg.Scheduler.Enabled {
		tokens, err := restosuite.NewTokenManager(cfg.RestoSuite, shared, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid upstream configuration")
		}
		client := restosuite.NewClient(cfg.RestoSuite, tokens, logger)
		coordinator := pipeline.NewCoordinator(client, database.NewStore(), shared, cfg.Sync, logger)
		go runScheduler(ctx, coordinator, cfg.Scheduler, logger, schedulerStop)
	}

	if cfg.Logging.Level == "info" || cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/runs", handlers.ListRuns)
		api.GET("/changes", handlers.ListChanges)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server")
	close(schedulerStop)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server stopped")
}

// runScheduler triggers a sync run on a fixed interval. The distributed
// sync lock still serializes these against manual CLI runs, so enabling the
// scheduler never breaks the single-flight guarantee.
func runScheduler(ctx context.Context, coordinator *pipeline.Coordinator, cfg config.SchedulerConfig, logger zerolog.Logger, stop <-chan struct{}) {
	logger.Info().Dur("interval", cfg.Interval).Msg("Scheduler started")

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			logger.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
			result, err := coordinator.Run(ctx, pipeline.Params{
				Page: cfg.Page,
				Size: cfg.Size,
			})
			if err != nil {
				logger.Error().Err(err).Msg("Scheduled sync failed")
				continue
			}
			logger.Info().
				Str("outcome", string(result.Outcome)).
				Str("run_id", result.RunID).
				Int("changes", result.ChangesWritten).
				Msg("Scheduled sync finished")
		}
	}
}

func initLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsedLevel, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsedLevel
		}
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
