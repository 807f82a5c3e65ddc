package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"radio-recorder-backend/config"
	"radio-recorder-backend/internal/api"
	"radio-recorder-backend/internal/db"
	"radio-recorder-backend/internal/logging"
	"radio-recorder-backend/internal/notification"
	"radio-recorder-backend/internal/radiko"
	"radio-recorder-backend/internal/recorder"
	"radio-recorder-backend/internal/scheduler"
	"radio-recorder-backend/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	logging.Configure(cfg.LogLevel, os.Stdout)
	logger := logging.WithComponent("main")
	logger.Info().Str("path", configPath).Msg("configuration loaded")

	loc, err := time.LoadLocation(cfg.Radiko.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.Radiko.Timezone).Msg("invalid timezone")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	appStore := store.NewGormStore(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rows left in a non-terminal state by a previous process are attempts
	// that can never complete; mark them failed before anything else runs.
	if n, err := appStore.SweepStaleHistory(ctx, "interrupted by restart"); err != nil {
		logger.Error().Err(err).Msg("failed to sweep stale history rows")
	} else if n > 0 {
		logger.Info().Int64("rows", n).Msg("marked stale recording attempts as failed")
	}

	if err := os.MkdirAll(cfg.Recorder.OutputDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.Recorder.OutputDir).Msg("failed to create output directory")
	}

	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
	} else {
		logger.Warn().Msg("VAPID keys not configured, push notifications disabled")
	}

	var pool *notification.WorkerPool
	if webpushOptions != nil {
		pool = notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		pool.Start(ctx)
	}

	guide := radiko.NewGuide(cfg.Radiko.APIBaseURL, loc)
	auth := radiko.NewAuthenticator(cfg.Radiko.AuthBaseURL, cfg.Radiko.AuthKey, cfg.Radiko.UserAgent, loc)

	engine := recorder.NewEngine(cfg.Recorder.FFmpegPath, time.Duration(cfg.Recorder.StopGraceSeconds)*time.Second)
	if err := engine.Available(); err != nil {
		logger.Warn().Err(err).Str("path", cfg.Recorder.FFmpegPath).Msg("ffmpeg not available, captures will fail")
	}

	retention := time.Duration(cfg.Scheduler.RetentionDays) * 24 * time.Hour
	var notifier recorder.Notifier
	if pool != nil {
		notifier = pool
	}
	coord := recorder.NewCoordinator(appStore, auth, engine, notifier, cfg.Recorder.OutputDir, retention)

	lookback := time.Duration(cfg.Scheduler.LookbackHours) * time.Hour
	sched := scheduler.New(appStore, coord, cfg.Scheduler.Interval, retention, lookback)
	if *cfg.Scheduler.Enabled {
		sched.Start()
	} else {
		logger.Info().Msg("scheduler disabled by configuration")
	}

	router := api.NewRouter(cfg, appStore, guide, sched, coord, webpushOptions, loc)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutdown signal received, stopping services")

	// Stop dispatching first, then finalize in-flight captures as stopped.
	sched.Stop()
	coord.StopAll(context.Background())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
