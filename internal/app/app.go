// Package app assembles a ledger session from configuration for the commands.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/capture"
	"github.com/dvloznov/s1a-ledger/internal/config"
	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/dvloznov/s1a-ledger/internal/gcsuploader"
	bq "github.com/dvloznov/s1a-ledger/internal/infra/bigquery"
	"github.com/dvloznov/s1a-ledger/internal/infra/sqlite"
	"github.com/dvloznov/s1a-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/s1a-ledger/internal/ledger"
	"github.com/dvloznov/s1a-ledger/internal/logger"
	"github.com/dvloznov/s1a-ledger/internal/persist"
	"github.com/dvloznov/s1a-ledger/internal/session"
	"github.com/dvloznov/s1a-ledger/internal/transcribe"
	"github.com/dvloznov/s1a-ledger/internal/voice"
	"github.com/rs/zerolog"
)

const queueBuffer = 100

// Options select the optional parts of the assembly.
type Options struct {
	// Async runs dictations on the in-memory job queue instead of in the caller.
	Async bool
	// Microphone enables recording on this machine through ffmpeg.
	Microphone bool
	// Cloud connects GCS and BigQuery when they are configured.
	Cloud bool
	// Ephemeral keeps the ledger in memory only; nothing is read from or written to disk.
	Ephemeral bool
}

// App is one opened ledger session and everything it depends on.
type App struct {
	Config  config.Config
	Log     zerolog.Logger
	Session *session.Session
	Jobs    *inmemory.Store
	// Transcriber is the model client the coordinator dictates through.
	Transcriber *transcribe.Client
	// Storage and Archive are nil unless configured and requested.
	Storage gcsuploader.StorageService
	Archive bq.RevenueArchive

	db    *sql.DB
	queue *inmemory.Queue
	loc   *time.Location
}

// New opens the database, loads the saved ledger and wires the voice coordinator.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: log, Jobs: inmemory.NewStore(), loc: cfg.Location()}

	var backend persist.Backend = persist.NewMemoryBackend()
	if !opts.Ephemeral {
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.db = db
		backend = sqlite.NewRecordStore(db, persist.StoreName)
	}

	gw := persist.New(
		backend,
		persist.WithDebounce(cfg.Persist.Debounce),
		persist.WithLogger(logger.Component(log, "persist")),
	)
	store := ledger.NewStore(domain.DefaultState(), ledger.WithClock(a.Now))

	tr, err := transcribe.New(ctx, cfg.APIKeyValue(),
		transcribe.WithModel(cfg.LLM.Model),
		transcribe.WithLogger(logger.Component(log, "transcribe")),
		transcribe.WithClock(a.Now),
	)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("app: %w", err)
	}
	a.Transcriber = tr
	if !tr.Configured() {
		log.Warn().Str("env", cfg.LLM.APIKeyEnv).Msg("No Gemini API key configured - dictation will report a configuration error")
	}

	voiceOpts := []voice.Option{
		voice.WithStatusTTL(cfg.Voice.StatusTTL),
		voice.WithClock(a.Now),
		voice.WithLogger(logger.Component(log, "voice")),
	}
	if opts.Microphone {
		rec := capture.NewFFmpegRecorder(cfg.Capture.FFmpeg, cfg.Capture.Format, cfg.Capture.Device,
			cfg.Capture.MaxDuration, logger.Component(log, "capture"))
		voiceOpts = append(voiceOpts, voice.WithRecorder(rec))
	}
	if opts.Async {
		a.queue = inmemory.NewQueue(queueBuffer, cfg.Voice.Workers, a.Jobs, logger.Component(log, "jobs"))
		voiceOpts = append(voiceOpts, voice.WithPublisher(a.queue))
	}
	coord := voice.New(store, tr, voiceOpts...)

	if a.queue != nil {
		if err := a.queue.Start(context.WithoutCancel(ctx), coord.HandleJob); err != nil {
			a.queue = nil
			a.Close(ctx)
			return nil, fmt.Errorf("app: start job queue: %w", err)
		}
	}

	a.Session = session.New(store, gw, coord, logger.Component(log, "session"))
	if err := a.Session.Open(ctx); err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("app: %w", err)
	}

	if opts.Cloud {
		a.connectCloud(ctx)
	}
	return a, nil
}

func (a *App) connectCloud(ctx context.Context) {
	if a.Config.GCS.Bucket != "" {
		storage, err := gcsuploader.NewGCSStorageService(ctx)
		if err != nil {
			a.Log.Warn().Err(err).Msg("GCS unavailable - uploads disabled")
		} else {
			a.Storage = storage
		}
	}

	if a.Config.BigQuery.Project != "" {
		archive, err := bq.NewBigQueryRevenueArchive(ctx, a.Config.BigQuery.Project, a.Config.BigQuery.Dataset)
		if err != nil {
			a.Log.Warn().Err(err).Msg("BigQuery unavailable - archiving disabled")
		} else {
			a.Archive = archive
		}
	}
}

// Now is the current time in the configured timezone.
func (a *App) Now() time.Time {
	return time.Now().In(a.loc)
}

// Close drains queued dictations, flushes the ledger and releases connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop job queue: %w", err))
		}
	}
	if a.Session != nil {
		if err := a.Session.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Storage != nil {
		errs = append(errs, a.Storage.Close())
	}
	if a.Archive != nil {
		errs = append(errs, a.Archive.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
