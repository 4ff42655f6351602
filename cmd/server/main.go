package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/classworks/assess-backend/internal/config"
	"github.com/classworks/assess-backend/internal/database"
	"github.com/classworks/assess-backend/internal/evaluator"
	"github.com/classworks/assess-backend/internal/gradebook"
	"github.com/classworks/assess-backend/internal/handler"
	"github.com/classworks/assess-backend/internal/logger"
	"github.com/classworks/assess-backend/internal/repository"
	"github.com/classworks/assess-backend/internal/router"
	"github.com/classworks/assess-backend/internal/service"
	"github.com/classworks/assess-backend/internal/validator"
	"github.com/classworks/assess-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Assess Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	sessionRepo := repository.NewSessionRepository(pool)
	labRepo := repository.NewLabRepository(pool)

	// ─── Initialize Collaborator Clients ───────────────────────────────
	evalClient := evaluator.NewHTTPClient(cfg.EvaluatorURL, cfg.EvaluatorTimeout)
	gradebookClient := gradebook.NewHTTPClient(cfg.GradebookURL, cfg.GradebookTimeout)
	gradebookQueue := gradebook.NewQueue(rdb)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	stateCache := service.NewRedisStateCache(rdb, log)
	events := service.NewRedisEventPublisher(rdb, log)
	trackers := service.NewTrackerRegistry()
	scheduler := service.NewDeadlineScheduler(time.Second, time.Now, log)

	sessionService := service.NewSessionService(sessionRepo, events, trackers, scheduler, stateCache, log)
	submissionService := service.NewSubmissionService(
		sessionRepo, evalClient, gradebookQueue, events,
		trackers, scheduler, stateCache, cfg.EvaluatorParallel, log,
	)
	labService := service.NewLabService(labRepo, gradebookQueue, cfg.LabCompletionThreshold, int(cfg.MaxLabBytes), log)

	// The scheduler fires auto-submits through the submission service;
	// wired after construction because each side needs the other.
	scheduler.SetAutoSubmit(func(sessionID uuid.UUID) {
		submissionService.AutoSubmit(context.Background(), sessionID)
	})

	// Re-arm deadline watches for timed sessions that survived a restart.
	if err := sessionService.RehydrateWatches(ctx); err != nil {
		log.Warn().Err(err).Msg("Deadline rehydration failed")
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessionService, submissionService, log),
		Lab:     handler.NewLabHandler(labService, log),
		Events:  handler.NewEventsHandler(rdb, sessionService, log),
		WS:      handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	gradebookWorker := worker.NewGradebookWorker(rdb, gradebookClient, log)
	go gradebookWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the deadline scheduler and background workers, then wait
	// for the gradebook queue to drain.
	scheduler.Stop()
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
