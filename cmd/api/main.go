package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/api"
	"github.com/dvloznov/s1a-ledger/internal/app"
	"github.com/dvloznov/s1a-ledger/internal/config"
	"github.com/dvloznov/s1a-ledger/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Parse command-line flags; they override the configuration
	var (
		port       = flag.String("port", cfg.HTTP.Port, "HTTP server port")
		dbPath     = flag.String("db", cfg.Database.Path, "Path to the sqlite database")
		bucket     = flag.String("bucket", cfg.GCS.Bucket, "GCS bucket for uploaded exports")
		microphone = flag.Bool("microphone", true, "Record dictations on this machine's microphone")
		ephemeral  = flag.Bool("ephemeral", false, "Keep the ledger in memory only")
	)
	flag.Parse()
	cfg.HTTP.Port = *port
	cfg.Database.Path = *dbPath
	cfg.GCS.Bucket = *bucket

	log := logger.NewWithLevel(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.GCS.Bucket == "" {
		log.Warn().Msg("No GCS bucket configured - export uploads will be disabled")
	}

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg, log, app.Options{
		Async:      true,
		Microphone: *microphone,
		Cloud:      true,
		Ephemeral:  *ephemeral,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}

	if a.Archive != nil {
		if err := a.Archive.EnsureTable(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to prepare BigQuery archive table")
		}
	}

	handler := api.NewRouter(api.Deps{
		Session: a.Session,
		Jobs:    a.Jobs,
		Storage: a.Storage,
		Bucket:  cfg.GCS.Bucket,
		Archive: a.Archive,
		Now:     a.Now,
		Log:     log,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.HTTP.Port).Str("db", cfg.Database.Path).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Drain dictations and flush the ledger
	if err := a.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to close ledger")
	}

	log.Info().Msg("Server exited")
}
