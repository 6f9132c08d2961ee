package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/app"
	"github.com/dvloznov/s1a-ledger/internal/config"
	"github.com/dvloznov/s1a-ledger/internal/logger"
	"github.com/dvloznov/s1a-ledger/internal/notionsync"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	dbPath := flag.String("db", cfg.Database.Path, "Path to the sqlite database")
	notionToken := flag.String("notion-token", cfg.Notion.Token, "Notion API token (required)")
	notionDBID := flag.String("notion-db-id", cfg.Notion.DatabaseID, "Notion database ID (required)")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	if *notionToken == "" {
		log.Fatal().Msg("Error: --notion-token is required")
	}
	if *notionDBID == "" {
		log.Fatal().Msg("Error: --notion-db-id is required")
	}

	cfg.Database.Path = *dbPath
	log = logger.NewWithLevel(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}
	defer a.Close(context.WithoutCancel(ctx))

	state := a.Session.Store.Snapshot()
	log.Info().
		Str("tax_id", state.Info.TaxID).
		Str("period", state.Info.Period).
		Int("transactions", len(state.Transactions)).
		Bool("dry_run", *dryRun).
		Msg("Starting Notion sync")

	notionClient := notionsync.NewNotionClient(*notionToken)

	res, err := notionsync.SyncLedger(ctx, state, notionClient, *notionDBID, *dryRun)
	if err != nil {
		log.Error().Err(err).Msg("Sync failed")
		return
	}

	fmt.Printf("Sync completed: %d created, %d skipped, %d archived, %d failed.\n",
		res.Created, res.Skipped, res.Archived, res.Failed)
}
