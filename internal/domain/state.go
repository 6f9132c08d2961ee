package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// ErrImportFormat is returned when an imported document is not a ledger backup.
var ErrImportFormat = errors.New("import: file is not an S1a-HKD ledger backup")

// State is the whole ledger: one header and the ordered list of rows.
type State struct {
	Info         TaxpayerInfo  `json:"info"`
	Transactions []Transaction `json:"transactions"`
}

// Clone returns a deep copy of s. A nil row list becomes an empty one.
func (s State) Clone() State {
	out := State{Info: s.Info, Transactions: make([]Transaction, len(s.Transactions))}
	copy(out.Transactions, s.Transactions)
	return out
}

// Total sums the amounts of all rows.
func (s State) Total() int64 {
	var total int64
	for _, t := range s.Transactions {
		total += t.Amount
	}
	return total
}

// DefaultState returns the built-in sample ledger shown on first run and after a reset.
func DefaultState() State {
	return State{
		Info: TaxpayerInfo{
			Name:     "Nguyễn Văn A",
			Address:  "123 Đường Láng, Hà Nội",
			TaxID:    "8000123456",
			Location: "Cửa hàng Tạp hóa Số 1",
			Period:   "Tháng 10/2023",
		},
		Transactions: []Transaction{
			{ID: "1", Date: "01/10/2023", Description: "Bán hàng tạp hóa lẻ", Amount: 2500000},
			{ID: "2", Date: "02/10/2023", Description: "Cung cấp dịch vụ giao hàng", Amount: 500000},
		},
	}
}

type importTransaction struct {
	ID          string      `json:"id"`
	Date        string      `json:"date"`
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
}

type importDocument struct {
	Info         *TaxpayerInfo        `json:"info"`
	Transactions *[]importTransaction `json:"transactions"`
}

// DecodeImport reads a JSON backup. The document must carry an "info" object and a
// "transactions" array, anything else is ErrImportFormat. Missing or repeated row ids
// are replaced and amounts are normalised, so the result always satisfies the ledger rules.
func DecodeImport(r io.Reader) (State, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc importDocument
	if err := dec.Decode(&doc); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrImportFormat, err)
	}
	if doc.Info == nil || doc.Transactions == nil {
		return State{}, ErrImportFormat
	}

	state := State{Info: *doc.Info, Transactions: make([]Transaction, 0, len(*doc.Transactions))}
	seen := make(map[string]bool, len(*doc.Transactions))
	for _, it := range *doc.Transactions {
		id := it.ID
		if id == "" || seen[id] {
			id = uuid.NewString()
		}
		seen[id] = true
		state.Transactions = append(state.Transactions, Transaction{
			ID:          id,
			Date:        it.Date,
			Description: it.Description,
			Amount:      importAmount(it.Amount),
		})
	}
	return state, nil
}

func importAmount(n json.Number) int64 {
	if n == "" {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		if i < 0 {
			return 0
		}
		return i
	}
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return NormalizeAmount(f)
}
