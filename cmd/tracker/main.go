package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/editwatch/session-server-go/internal/config"
	"github.com/editwatch/session-server-go/internal/tracker"
	"github.com/editwatch/session-server-go/internal/tracker/agentapi"
	"github.com/editwatch/session-server-go/internal/tracker/classify"
	"github.com/editwatch/session-server-go/internal/tracker/delivery"
	"github.com/editwatch/session-server-go/internal/tracker/engine"
	"github.com/editwatch/session-server-go/internal/tracker/hash"
	"github.com/editwatch/session-server-go/internal/tracker/procscan"
	"github.com/editwatch/session-server-go/internal/tracker/watch"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadTracker()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.TrackerID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to determine tracker id")
		}
		cfg.TrackerID = hostname
	}

	setLogLevel(cfg.LogLevel)

	classifier := classify.New(cfg.IgnorePatterns, cfg.IgnoreDirs, config.ClassifierCacheLimit)
	eng := engine.New(
		cfg.ResumeWindow(), cfg.SessionTimeout(), cfg.MaxSessionAge(),
		config.ClosedHistoryLimit,
	)
	editors := engine.NewEditorTracker(cfg.EditorGrace())
	renames := engine.NewRenameTracker(config.RenameChainTTL)
	hasher := hash.NewCalculator(int64(cfg.HashMaxFileSizeMB) * 1024 * 1024)
	scanner := procscan.NewScanner()

	queue, err := delivery.NewDiskQueue(cfg.EventQueuePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open event queue")
	}
	client := delivery.NewClient(cfg.AuthorityURL, cfg.TrackerID, queue)

	t := tracker.New(cfg, classifier, eng, editors, renames, hasher, scanner, client)

	watcher, err := watch.New(t.HandleEvent)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create watcher")
	}
	for _, path := range cfg.WatchPaths {
		if err := watcher.AddTree(path); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to watch path")
		}
		log.Info().Str("path", path).Msg("watching")
	}

	t.Start()
	if err := watcher.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start watcher")
	}

	// Recover anything queued while the authority was unreachable.
	if queue.Len() > 0 {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownDrainTimeout)
			defer cancel()
			client.Flush(ctx)
		}()
	}

	agentServer := agentapi.NewServer(t, cfg.TrackerID)
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      agentServer.Routes(),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting agent server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("agent server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down tracker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("agent server forced to shutdown")
	}

	if err := watcher.Close(); err != nil {
		log.Warn().Err(err).Msg("watcher close")
	}
	t.Stop()

	log.Info().Msg("tracker stopped")
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
