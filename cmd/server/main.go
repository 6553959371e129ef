package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/examgate/internal/config"
	"github.com/stemsi/examgate/internal/database"
	"github.com/stemsi/examgate/internal/handler"
	"github.com/stemsi/examgate/internal/logger"
	"github.com/stemsi/examgate/internal/metrics"
	"github.com/stemsi/examgate/internal/middleware"
	"github.com/stemsi/examgate/internal/model"
	"github.com/stemsi/examgate/internal/repository"
	"github.com/stemsi/examgate/internal/router"
	"github.com/stemsi/examgate/internal/service"
	"github.com/stemsi/examgate/internal/token"
	"github.com/stemsi/examgate/internal/validator"
	"github.com/stemsi/examgate/internal/worker"
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
		Msg("Starting examgate")

	// ─── Initialize Validator & Metrics ────────────────────────────────
	validator.Setup()
	metrics.Init()

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
	studentRepo := repository.NewStudentRepository(pool)
	instructorRepo := repository.NewInstructorRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	codeRepo := repository.NewExamCodeRepository(pool)
	authRepo := repository.NewAuthorizationRepository(pool)
	launchRepo := repository.NewLaunchSessionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	hasher := token.NewHasher(cfg.TokenHashKey)
	events := service.NewRedisSessionEvents(rdb)
	answers := service.NewRedisAnswerBuffer(rdb)

	authService := service.NewAuthService(cfg, rdb, studentRepo, instructorRepo)
	registry := service.NewCodeRegistry(codeRepo)
	authorizationService := service.NewAuthorizationService(registry, authRepo, hasher, cfg.AuthorizationTTL, log)
	launchManager := service.NewLaunchManager(launchRepo, hasher, events, cfg.LaunchGrace, log)
	sessionService := service.NewExamAppSessionService(attemptRepo, launchRepo, answers, events, cfg.LaunchGrace, log)
	codeService := service.NewExamCodeService(examRepo, codeRepo, cfg.BcryptCost, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:           handler.NewAuthHandler(authService, log),
		ExamApp:        handler.NewExamAppHandler(registry, authorizationService, launchManager, log),
		ExamAppSession: handler.NewExamAppSessionHandler(sessionService, launchManager, log),
		ExamCode:       handler.NewExamCodeHandler(codeService, log),
		WS:             handler.NewWSHandler(events, launchManager, sessionService, log, cfg.AllowedOrigins),
		System:         handler.NewSystemHandler(pool, rdb, log),
	}

	codeLimiter := middleware.NewRateLimiter(cfg.CodeRateLimit, time.Minute)
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	answerWorker := worker.NewAnswerWorker(attemptRepo, rdb, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		answerWorker.Start(workerCtx)
	}()

	sweeper := worker.NewTokenSweeper(map[string]worker.Sweeper{
		"authorization":  token.NewStore[*model.ExamAppAuthorization](hasher, authRepo, nil),
		"launch_session": token.NewStore[*model.ExamAppLaunchSession](hasher, launchRepo, nil),
	}, attemptRepo, events, cfg.TokenRetention, log)
	if err := sweeper.Schedule(cfg.TokenSweepSchedule); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.TokenSweepSchedule).Msg("Invalid token sweep schedule")
	}
	sweeper.Every(time.Minute, func() {
		now := time.Now()
		codeLimiter.Cleanup(now)
		authLimiter.Cleanup(now)
	})
	sweeper.Start()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(router.Deps{
		Auth:        authService,
		Launches:    launchManager,
		CodeLimiter: codeLimiter,
		AuthLimiter: authLimiter,
		Log:         log,
	}, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
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

	// 2. Stop the scheduler, then let the answer worker drain its queue.
	sweeper.Stop()
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
