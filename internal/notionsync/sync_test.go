package notionsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockNotionService keeps pages in memory and pages query results two at a time.
type MockNotionService struct {
	Pages     []notionapi.Page
	CreateErr error
	created   []notionapi.Properties
	archived  []string
}

func (m *MockNotionService) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.created = append(m.created, properties)
	return &notionapi.Page{ID: notionapi.ObjectID("new-page")}, nil
}

func (m *MockNotionService) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	start := 0
	if filter.StartCursor != "" {
		start = 2
	}
	end := min(start+2, len(m.Pages))
	resp := &notionapi.DatabaseQueryResponse{Results: m.Pages[start:end]}
	if end < len(m.Pages) {
		resp.HasMore = true
		resp.NextCursor = notionapi.Cursor("next")
	}
	return resp, nil
}

func (m *MockNotionService) DeletePage(ctx context.Context, pageID string) error {
	m.archived = append(m.archived, pageID)
	return nil
}

func page(id, txID string) notionapi.Page {
	p := notionapi.Page{ID: notionapi.ObjectID(id), Properties: notionapi.Properties{}}
	if txID != "" {
		p.Properties[PropTransactionID] = &notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{PlainText: txID}},
		}
	}
	return p
}

func TestSyncLedger(t *testing.T) {
	mock := &MockNotionService{Pages: []notionapi.Page{
		page("p1", "1"),
		page("p2", "gone"),
		page("p3", ""),
	}}
	state := domain.DefaultState()

	res, err := SyncLedger(context.Background(), state, mock, "db", false)
	require.NoError(t, err)

	assert.Equal(t, Result{Created: 1, Skipped: 1, Archived: 2}, res)
	assert.ElementsMatch(t, []string{"p2", "p3"}, mock.archived)
	require.Len(t, mock.created, 1)
	assert.Equal(t, notionapi.RichTextProperty{RichText: richText("2")}, mock.created[0][PropTransactionID])
}

func TestSyncLedger_DryRun(t *testing.T) {
	mock := &MockNotionService{Pages: []notionapi.Page{page("p2", "gone")}}

	res, err := SyncLedger(context.Background(), domain.DefaultState(), mock, "db", true)
	require.NoError(t, err)

	assert.Equal(t, Result{Created: 2, Archived: 1}, res)
	assert.Empty(t, mock.created)
	assert.Empty(t, mock.archived)
}

func TestSyncLedger_CreateFailureCounted(t *testing.T) {
	mock := &MockNotionService{CreateErr: errors.New("rate limited")}

	res, err := SyncLedger(context.Background(), domain.DefaultState(), mock, "db", false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	assert.Zero(t, res.Created)
}

func TestTransactionToNotionProperties(t *testing.T) {
	info := domain.DefaultState().Info

	props := TransactionToNotionProperties(domain.Transaction{ID: "7", Date: "05/03/2024", Description: "Bán lẻ", Amount: 150000}, info)
	assert.Equal(t, notionapi.NumberProperty{Number: 150000}, props[PropAmount])
	assert.Equal(t, notionapi.SelectProperty{Select: notionapi.Option{Name: "Tháng 10/2023"}}, props[PropPeriod])

	date, ok := props[PropDate].(notionapi.DateProperty)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC), time.Time(*date.Date.Start))

	props = TransactionToNotionProperties(domain.Transaction{ID: "8", Date: "sáng nay"}, domain.TaxpayerInfo{})
	assert.NotContains(t, props, PropDate)
	assert.NotContains(t, props, PropTaxID)
	assert.NotContains(t, props, PropPeriod)
	assert.Equal(t, notionapi.RichTextProperty{RichText: richText("sáng nay")}, props[PropDateText])
}
