package ledger

import (
	"sync"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/google/uuid"
)

// ChangeKind says which mutator produced a Change.
type ChangeKind string

const (
	ChangeInfo    ChangeKind = "info"
	ChangeAdd     ChangeKind = "add"
	ChangeUpdate  ChangeKind = "update"
	ChangeRemove  ChangeKind = "remove"
	ChangeReplace ChangeKind = "replace"
	ChangeReset   ChangeKind = "reset"
)

// Change is delivered to subscribers after every mutation.
// State is a private copy taken right after the mutation was applied.
type Change struct {
	Kind  ChangeKind
	ID    string // affected transaction, if any
	State domain.State
}

// Store is the single source of truth for one session's ledger.
// Mutations are applied and announced one at a time, in call order.
// Subscribers run synchronously and must not call mutators.
type Store struct {
	// emitMu spans a mutation and its notifications so subscribers observe changes in order.
	emitMu sync.Mutex
	mu     sync.RWMutex
	state  domain.State
	subs   map[int]func(Change)
	nextID int
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to date new rows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store holding a copy of initial.
func NewStore(initial domain.State, opts ...Option) *Store {
	s := &Store{
		state: initial.Clone(),
		subs:  make(map[int]func(Change)),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Transactions = s.uniqueIDs(s.state.Transactions)
	return s
}

// Subscribe registers fn for every future change and returns a function that removes it.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.emitMu.Lock()
		defer s.emitMu.Unlock()
		delete(s.subs, id)
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// SetInfoField assigns one header field. Unknown fields are ignored.
func (s *Store) SetInfoField(field domain.InfoField, value string) {
	s.mutate(func(st *domain.State) (Change, bool) {
		if !st.Info.Set(field, value) {
			return Change{}, false
		}
		return Change{Kind: ChangeInfo}, true
	})
}

// AddTransaction appends an empty row dated today and returns its id.
func (s *Store) AddTransaction() string {
	return s.AppendTransaction(domain.Transaction{Date: domain.FormatDate(s.now())})
}

// AppendTransaction appends t under a fresh id and returns that id.
// The id and a negative amount carried by t are not trusted.
func (s *Store) AppendTransaction(t domain.Transaction) string {
	var id string
	s.mutate(func(st *domain.State) (Change, bool) {
		t.ID = s.freshID(st.Transactions)
		if t.Amount < 0 {
			t.Amount = 0
		}
		st.Transactions = append(st.Transactions, t)
		id = t.ID
		return Change{Kind: ChangeAdd, ID: id}, true
	})
	return id
}

// UpdateTransactionField sets one column of row id. A missing id is a no-op.
// Amount values go through domain.ParseAmount.
func (s *Store) UpdateTransactionField(id string, field domain.TransactionField, value string) {
	s.mutate(func(st *domain.State) (Change, bool) {
		i := indexOf(st.Transactions, id)
		if i < 0 {
			return Change{}, false
		}
		row := &st.Transactions[i]
		switch field {
		case domain.TransactionDate:
			row.Date = value
		case domain.TransactionDescription:
			row.Description = value
		case domain.TransactionAmount:
			row.Amount = domain.ParseAmount(value)
		default:
			return Change{}, false
		}
		return Change{Kind: ChangeUpdate, ID: id}, true
	})
}

// RemoveTransaction deletes row id, keeping the order of the others.
func (s *Store) RemoveTransaction(id string) {
	s.mutate(func(st *domain.State) (Change, bool) {
		i := indexOf(st.Transactions, id)
		if i < 0 {
			return Change{}, false
		}
		st.Transactions = append(st.Transactions[:i], st.Transactions[i+1:]...)
		return Change{Kind: ChangeRemove, ID: id}, true
	})
}

// ReplaceAll swaps in a whole new ledger, as on import or load.
func (s *Store) ReplaceAll(next domain.State) {
	s.replace(next, ChangeReplace)
}

// Reset swaps in next and announces it as ChangeReset.
func (s *Store) Reset(next domain.State) {
	s.replace(next, ChangeReset)
}

func (s *Store) replace(next domain.State, kind ChangeKind) {
	s.mutate(func(st *domain.State) (Change, bool) {
		*st = next.Clone()
		st.Transactions = s.uniqueIDs(st.Transactions)
		return Change{Kind: kind}, true
	})
}

func (s *Store) mutate(apply func(st *domain.State) (Change, bool)) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	change, changed := apply(&s.state)
	if changed {
		change.State = s.state.Clone()
	}
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range s.subscribers() {
		fn(change)
	}
}

// subscribers returns the callbacks in registration order. Callers hold emitMu.
func (s *Store) subscribers() []func(Change) {
	out := make([]func(Change), 0, len(s.subs))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.subs[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (s *Store) freshID(rows []domain.Transaction) string {
	for {
		id := uuid.NewString()
		if indexOf(rows, id) < 0 {
			return id
		}
	}
}

func (s *Store) uniqueIDs(rows []domain.Transaction) []domain.Transaction {
	seen := make(map[string]bool, len(rows))
	for i := range rows {
		if rows[i].ID == "" || seen[rows[i].ID] {
			rows[i].ID = s.freshID(rows)
		}
		seen[rows[i].ID] = true
		if rows[i].Amount < 0 {
			rows[i].Amount = 0
		}
	}
	return rows
}

func indexOf(rows []domain.Transaction, id string) int {
	for i := range rows {
		if rows[i].ID == id {
			return i
		}
	}
	return -1
}
