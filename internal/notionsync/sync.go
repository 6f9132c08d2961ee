// Package notionsync mirrors the ledger rows into a Notion database.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/dvloznov/s1a-ledger/internal/logger"
	"github.com/jomei/notionapi"
)

const (
	// BatchSize defines the number of transactions to process in a single batch
	BatchSize = 100
)

// Result counts what a sync did, or would do in dry-run mode.
type Result struct {
	Created  int
	Skipped  int
	Archived int
	Failed   int
}

// SyncLedger pushes the ledger's rows into the Notion database:
// 1. Queries all existing Notion pages
// 2. Archives pages whose Transaction ID is no longer in the ledger
// 3. Creates pages for rows that Notion does not have yet
// Rows already present are left alone. Per-page failures are logged and counted, not returned.
func SyncLedger(ctx context.Context, state domain.State, notionClient NotionService, notionDBID string, dryRun bool) (Result, error) {
	log := logger.FromContext(ctx)
	var res Result

	log.Info().
		Int("transaction_count", len(state.Transactions)).
		Bool("dry_run", dryRun).
		Msg("Starting ledger sync to Notion")

	inLedger := make(map[string]bool, len(state.Transactions))
	for _, tx := range state.Transactions {
		inLedger[tx.ID] = true
	}

	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return res, fmt.Errorf("failed to query Notion pages: %w", err)
	}
	log.Info().Int("notion_page_count", len(notionPages)).Msg("Retrieved existing Notion pages")

	existing := make(map[string]bool, len(notionPages))
	for _, page := range notionPages {
		txID := extractTransactionID(page)
		if txID != "" && inLedger[txID] {
			existing[txID] = true
			continue
		}

		if dryRun {
			log.Info().
				Str("transaction_id", txID).
				Str("page_id", string(page.ID)).
				Msg("[DRY RUN] Would archive stale Notion page")
			res.Archived++
			continue
		}
		if err := notionClient.DeletePage(ctx, string(page.ID)); err != nil {
			log.Warn().
				Err(err).
				Str("transaction_id", txID).
				Str("page_id", string(page.ID)).
				Msg("Failed to archive stale Notion page")
			res.Failed++
			continue
		}
		res.Archived++
	}

	for i := 0; i < len(state.Transactions); i += BatchSize {
		end := min(i+BatchSize, len(state.Transactions))
		batch := state.Transactions[i:end]
		log.Debug().
			Int("batch_start", i).
			Int("batch_end", end).
			Msg("Processing batch")

		for _, tx := range batch {
			if existing[tx.ID] {
				res.Skipped++
				continue
			}
			existing[tx.ID] = true

			if dryRun {
				log.Info().
					Str("transaction_id", tx.ID).
					Msg("[DRY RUN] Would create new Notion page")
				res.Created++
				continue
			}

			page, err := notionClient.CreatePage(ctx, notionDBID, TransactionToNotionProperties(tx, state.Info))
			if err != nil {
				log.Warn().
					Err(err).
					Str("transaction_id", tx.ID).
					Msg("Failed to create Notion page")
				res.Failed++
				continue
			}
			log.Info().
				Str("transaction_id", tx.ID).
				Str("page_id", string(page.ID)).
				Msg("Created Notion page")
			res.Created++
		}
	}

	log.Info().
		Int("created", res.Created).
		Int("skipped", res.Skipped).
		Int("archived", res.Archived).
		Int("failed", res.Failed).
		Msg("Ledger sync completed")

	return res, nil
}

// queryAllNotionPages queries all pages from a Notion database and returns them.
// Handles pagination automatically.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
