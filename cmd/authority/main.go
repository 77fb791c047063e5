package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/editwatch/session-server-go/internal/config"
	"github.com/editwatch/session-server-go/internal/database"
	"github.com/editwatch/session-server-go/internal/handler"
	"github.com/editwatch/session-server-go/internal/jobs"
	"github.com/editwatch/session-server-go/internal/middleware"
	"github.com/editwatch/session-server-go/internal/redis"
	"github.com/editwatch/session-server-go/internal/repository"
	"github.com/editwatch/session-server-go/internal/service"
	"github.com/editwatch/session-server-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadAuthority()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	userRepo := repository.NewUserRepository(db.DB)
	fileRepo := repository.NewFileRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)
	eventRepo := repository.NewEventRepository(db.DB)
	commentRepo := repository.NewCommentRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	trackerClient := service.NewTrackerClient(cfg.TrackerURLs)

	reconcileService := service.NewReconcileService(
		db, userRepo, fileRepo, sessionRepo, eventRepo, broker, cfg.ResumeWindow(),
	)
	commentService := service.NewCommentService(
		db, userRepo, sessionRepo, commentRepo, trackerClient,
	)
	queryService := service.NewQueryService(
		userRepo, fileRepo, sessionRepo, eventRepo, commentRepo,
	)

	eventRateLimit := middleware.NewEventRateLimit(redisClient.Client, cfg.EventRateLimitPerMin)

	eventHandler := handler.NewEventHandler(reconcileService)
	sessionHandler := handler.NewSessionHandler(queryService)
	commentHandler := handler.NewCommentHandler(commentService)
	queryHandler := handler.NewQueryHandler(queryService)
	feedHandler := handler.NewFeedHandler(broker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.With(eventRateLimit.Handler).Post("/events", eventHandler.ProcessEvent)
		r.Get("/events", queryHandler.ListEvents)

		r.Get("/sessions", sessionHandler.ListSessions)
		r.Get("/sessions/{id}/details", sessionHandler.GetSessionDetails)
		r.Get("/sessions-with-comments", sessionHandler.ListSessionsWithComments)

		r.Post("/comments", commentHandler.CreateComment)
		r.Get("/comments", commentHandler.ListComments)
		r.Get("/comments/{sessionId}", commentHandler.GetComment)
		r.Get("/change-types", commentHandler.ListChangeTypes)

		r.Get("/current-editors", queryHandler.CurrentEditors)
		r.Get("/multi-user-files", queryHandler.MultiUserFiles)
		r.Get("/user-activity/{username}", queryHandler.UserActivity)
		r.Get("/users", queryHandler.ListUsers)
		r.Put("/users/{userID}/username", queryHandler.UpdateUsername)
		r.Get("/files", queryHandler.ListFiles)

		r.Get("/feed", feedHandler.ServeHTTP)
	})

	orphanSweep := jobs.NewOrphanSweepJob(
		sessionRepo, trackerClient, cfg.OrphanGrace(), cfg.OrphanSweepInterval(),
	)
	orphanSweep.Start()
	defer orphanSweep.Stop()

	retention := jobs.NewRetentionJob(
		sessionRepo, eventRepo,
		time.Duration(cfg.EventRetentionDays)*24*time.Hour,
		time.Duration(cfg.SessionRetentionDays)*24*time.Hour,
		config.RetentionJobInterval,
	)
	retention.Start()
	defer retention.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting authority server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
