package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rsilveira/streamcast/internal/config"
	"github.com/rsilveira/streamcast/internal/database"
	"github.com/rsilveira/streamcast/internal/handler"
	"github.com/rsilveira/streamcast/internal/notifier"
	"github.com/rsilveira/streamcast/internal/scheduler"
	"github.com/rsilveira/streamcast/internal/service"
	"github.com/rsilveira/streamcast/internal/stream"
	"github.com/rsilveira/streamcast/pkg/middleware"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	config.InitLogger(cfg)

	slog.Info("Starting Streamcast Orchestrator", "version", version)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to MongoDB
	db, err := database.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoTimeout)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Disconnect(context.Background()); err != nil {
			slog.Error("Failed to disconnect from MongoDB", "error", err)
		}
	}()

	// Create indexes
	if err := database.CreateIndexes(ctx, db); err != nil {
		slog.Error("Failed to create indexes", "error", err)
		os.Exit(1)
	}

	// Initialize repositories
	sessionRepo := database.NewSessionRepository(db)
	scheduleRepo := database.NewScheduleRepository(db)

	// Initialize stream process adapter
	adapter, err := stream.NewSystemdAdapter(ctx, stream.SystemdConfig{
		UnitDir:    cfg.StreamUnitDir,
		FFmpegPath: cfg.StreamFFmpegPath,
		OpTimeout:  cfg.StreamAdapterTimeout,
	})
	if err != nil {
		slog.Error("Failed to connect to systemd", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			slog.Error("Failed to close systemd connection", "error", err)
		}
	}()

	// Initialize event notifier
	var events notifier.Notifier = notifier.Nop{}
	var webhookNotifier *notifier.Webhook
	if cfg.NotifierWebhookURL != "" {
		webhookNotifier = notifier.NewWebhook(notifier.WebhookConfig{
			URL:       cfg.NotifierWebhookURL,
			Timeout:   cfg.NotifierTimeout,
			Workers:   cfg.NotifierWorkers,
			QueueSize: cfg.NotifierQueueSize,
			Retry: notifier.RetryConfig{
				MaxAttempts:    cfg.NotifierMaxAttempts,
				InitialDelayMs: cfg.NotifierInitialDelayMs,
				MaxDelayMs:     cfg.NotifierMaxDelayMs,
			},
		})
		events = webhookNotifier
	} else {
		slog.Info("Notifier webhook URL not set, events disabled")
	}

	// Initialize services
	sessionService := service.NewSessionService(sessionRepo, adapter)

	// Initialize scheduler and rebuild triggers from persisted schedules
	sched := scheduler.New(scheduleRepo, sessionService, events, cfg.FiringTimeout)
	if err := sched.Init(ctx); err != nil {
		slog.Error("Failed to initialize scheduler", "error", err)
		os.Exit(1)
	}

	scheduleService := service.NewScheduleService(scheduleRepo, sessionRepo, sched, events, cfg.DefaultTimezone)

	// Start recovery sweeper
	sweeper := scheduler.NewSweeper(sched, scheduleRepo, scheduler.SweeperConfig{
		Interval:    cfg.SweepInterval,
		Window:      cfg.SweepWindow,
		Concurrency: cfg.SweepConcurrency,
	})
	sweeper.Start(ctx)

	// Initialize handlers
	sessionHandler := handler.NewSessionHandler(sessionService, scheduleService, events)
	scheduleHandler := handler.NewScheduleHandler(scheduleService)
	healthHandler := handler.NewHealthHandler(db, version)

	// Create CORS config
	corsConfig := middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAge:           cfg.CORSMaxAge,
	}

	// Create router
	router := handler.NewRouter(
		sessionHandler,
		scheduleHandler,
		healthHandler,
		corsConfig,
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Received shutdown signal, initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the sweeper first (wait for in-flight recoveries)
	slog.Info("Stopping recovery sweeper...")
	sweeper.Stop(shutdownCtx)

	// Disarm all schedule triggers
	slog.Info("Shutting down scheduler...")
	sched.Shutdown()

	// Shutdown HTTP server
	slog.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Flush pending event deliveries
	if webhookNotifier != nil {
		slog.Info("Closing notifier...")
		webhookNotifier.Close()
	}

	slog.Info("Streamcast Orchestrator stopped")
}
