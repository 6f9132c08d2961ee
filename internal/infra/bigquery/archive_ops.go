// Package bigquery archives ledger snapshots into BigQuery for reporting.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/dvloznov/s1a-ledger/internal/logger"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

const revenueEntriesTable = "revenue_entries"

// BigQueryRevenueArchive is the RevenueArchive backed by a shared BigQuery client.
type BigQueryRevenueArchive struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewBigQueryRevenueArchive creates a BigQuery client for project and targets dataset.
func NewBigQueryRevenueArchive(ctx context.Context, project, dataset string) (*BigQueryRevenueArchive, error) {
	if project == "" || dataset == "" {
		return nil, fmt.Errorf("NewBigQueryRevenueArchive: project and dataset are required")
	}
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRevenueArchive: creating client: %w", err)
	}
	return &BigQueryRevenueArchive{client: client, project: project, dataset: dataset}, nil
}

// Close closes the BigQuery client connection.
func (a *BigQueryRevenueArchive) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

func (a *BigQueryRevenueArchive) table() *bigquery.Table {
	return a.client.DatasetInProject(a.project, a.dataset).Table(revenueEntriesTable)
}

// EnsureTable creates s1a.revenue_entries, partitioned by archive time, if it is missing.
func (a *BigQueryRevenueArchive) EnsureTable(ctx context.Context) error {
	schema, err := bigquery.InferSchema(RevenueEntryRow{})
	if err != nil {
		return fmt.Errorf("EnsureTable: inferring schema: %w", err)
	}

	meta := &bigquery.TableMetadata{
		Schema: schema,
		TimePartitioning: &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: "archived_ts",
		},
	}
	if err := a.table().Create(ctx, meta); err != nil {
		if isAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("EnsureTable: creating %s.%s: %w", a.dataset, revenueEntriesTable, err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("dataset", a.dataset).
		Str("table", revenueEntriesTable).
		Msg("Created revenue archive table")
	return nil
}

// ArchiveState inserts all transactions of state. An empty ledger inserts nothing
// but still gets an archive id.
func (a *BigQueryRevenueArchive) ArchiveState(ctx context.Context, state domain.State, now time.Time) (string, int, error) {
	archiveID := uuid.NewString()
	rows := BuildRevenueEntries(state, archiveID, now)
	if len(rows) == 0 {
		return archiveID, 0, nil
	}

	if err := a.table().Inserter().Put(ctx, rows); err != nil {
		return "", 0, fmt.Errorf("ArchiveState: inserting rows: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("archive_id", archiveID).
		Int("rows", len(rows)).
		Msg("Archived ledger")
	return archiveID, len(rows), nil
}

// QueryByPeriod reads archived rows for taxID and period.
func (a *BigQueryRevenueArchive) QueryByPeriod(ctx context.Context, taxID, period string) ([]*RevenueEntryRow, error) {
	q := a.client.Query(fmt.Sprintf(`
		SELECT
			archive_id,
			transaction_id,
			row_no,
			tax_id,
			taxpayer_name,
			period,
			date_text,
			transaction_date,
			description,
			amount,
			archived_ts
		FROM `+"`%s.%s.%s`"+`
		WHERE tax_id = @tax_id
		  AND period = @period
		ORDER BY archived_ts, row_no
	`, a.project, a.dataset, revenueEntriesTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "tax_id", Value: taxID},
		{Name: "period", Value: period},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryByPeriod: query read: %w", err)
	}

	var rows []*RevenueEntryRow
	for {
		var r RevenueEntryRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryByPeriod: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}

func isAlreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusConflict
}
