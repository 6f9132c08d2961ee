package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// DateLayout is the conventional DD/MM/YYYY layout of ledger dates.
// Dates are kept as free text; the layout is used only to render and, best-effort, to parse.
const DateLayout = "02/01/2006"

// Transaction is one row of the S1a-HKD revenue ledger.
type Transaction struct {
	ID          string `json:"id"`
	Date        string `json:"date"`        // free text, conventionally DD/MM/YYYY
	Description string `json:"description"` // what was sold or the service provided
	Amount      int64  `json:"amount"`      // VND, never negative
}

// TransactionField names the editable columns of a transaction row.
type TransactionField string

const (
	TransactionDate        TransactionField = "date"
	TransactionDescription TransactionField = "description"
	TransactionAmount      TransactionField = "amount"
)

// ParseTransactionField validates a column name coming from a request.
func ParseTransactionField(s string) (TransactionField, error) {
	switch f := TransactionField(strings.TrimSpace(s)); f {
	case TransactionDate, TransactionDescription, TransactionAmount:
		return f, nil
	}
	return "", fmt.Errorf("unknown transaction field %q", s)
}

// ParseAmount turns typed or dictated amount text into a whole VND amount.
// Every non-digit is dropped first, so "1.234.567" is 1234567 and "-5" is 5.
// Empty, non-numeric and overflowing input all yield 0.
func ParseAmount(s string) int64 {
	var b strings.Builder
	for _, r := range s {
		if r < 0x80 && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// NormalizeAmount converts a number from the model or an imported file into an amount.
func NormalizeAmount(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	r := math.Round(f)
	if r >= math.MaxInt64 {
		return 0
	}
	return int64(r)
}

// FormatDate renders t as DD/MM/YYYY.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a DD/MM/YYYY ledger date. Day and month may be written without padding.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2/1/2006", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}
