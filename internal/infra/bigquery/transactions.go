package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/s1a-ledger/internal/domain"
)

// RevenueEntryRow is one ledger transaction as archived in s1a.revenue_entries.
type RevenueEntryRow struct {
	ArchiveID     string `bigquery:"archive_id"`     // REQUIRED
	TransactionID string `bigquery:"transaction_id"` // REQUIRED
	RowNo         int64  `bigquery:"row_no"`         // REQUIRED, 1-based ledger order

	TaxID        string `bigquery:"tax_id"`        // REQUIRED, may be empty
	TaxpayerName string `bigquery:"taxpayer_name"` // REQUIRED, may be empty
	Period       string `bigquery:"period"`        // REQUIRED, may be empty

	DateText        string            `bigquery:"date_text"`        // REQUIRED, as typed
	TransactionDate bigquery.NullDate `bigquery:"transaction_date"` // NULLABLE, set when DateText is DD/MM/YYYY

	Description string `bigquery:"description"` // REQUIRED
	Amount      int64  `bigquery:"amount"`      // REQUIRED, VND

	ArchivedTS time.Time `bigquery:"archived_ts"` // REQUIRED
}

// BuildRevenueEntries flattens a ledger snapshot into archive rows sharing archiveID.
func BuildRevenueEntries(state domain.State, archiveID string, now time.Time) []*RevenueEntryRow {
	rows := make([]*RevenueEntryRow, 0, len(state.Transactions))
	for i, t := range state.Transactions {
		row := &RevenueEntryRow{
			ArchiveID:     archiveID,
			TransactionID: t.ID,
			RowNo:         int64(i + 1),
			TaxID:         state.Info.TaxID,
			TaxpayerName:  state.Info.Name,
			Period:        state.Info.Period,
			DateText:      t.Date,
			Description:   t.Description,
			Amount:        t.Amount,
			ArchivedTS:    now.UTC(),
		}
		if d, err := domain.ParseDate(t.Date); err == nil {
			row.TransactionDate = bigquery.NullDate{Date: civil.DateOf(d), Valid: true}
		}
		rows = append(rows, row)
	}
	return rows
}
