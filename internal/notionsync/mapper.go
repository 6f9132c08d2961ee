package notionsync

import (
	"time"

	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/jomei/notionapi"
)

// Property names of the Notion revenue database.
const (
	PropDescription   = "Description"
	PropTransactionID = "Transaction ID"
	PropDate          = "Date"
	PropDateText      = "Date Text"
	PropAmount        = "Amount"
	PropTaxID         = "Tax ID"
	PropPeriod        = "Period"
)

// TransactionToNotionProperties converts a ledger row to Notion properties.
// The Date property is only set when the row's date is a valid DD/MM/YYYY; the text
// as typed always goes to Date Text.
func TransactionToNotionProperties(tx domain.Transaction, info domain.TaxpayerInfo) notionapi.Properties {
	props := notionapi.Properties{
		PropDescription: notionapi.TitleProperty{
			Title: richText(tx.Description),
		},
		PropTransactionID: notionapi.RichTextProperty{
			RichText: richText(tx.ID),
		},
		PropDateText: notionapi.RichTextProperty{
			RichText: richText(tx.Date),
		},
		PropAmount: notionapi.NumberProperty{
			Number: float64(tx.Amount),
		},
	}

	if d, err := domain.ParseDate(tx.Date); err == nil {
		start := notionapi.Date(time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC))
		props[PropDate] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &start},
		}
	}

	if info.TaxID != "" {
		props[PropTaxID] = notionapi.RichTextProperty{
			RichText: richText(info.TaxID),
		}
	}

	if info.Period != "" {
		props[PropPeriod] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: info.Period},
		}
	}

	return props
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{
				Content: content,
			},
		},
	}
}

// extractTransactionID extracts the transaction ID from a Notion page's properties.
// Returns empty string if not found.
func extractTransactionID(page notionapi.Page) string {
	if prop, ok := page.Properties[PropTransactionID]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok {
			if len(rt.RichText) > 0 {
				return rt.RichText[0].PlainText
			}
		}
	}
	return ""
}
