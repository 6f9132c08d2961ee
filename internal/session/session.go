// Package session owns the one ledger of a running process and wires its store,
// persistence and voice routing together.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/dvloznov/s1a-ledger/internal/ledger"
	"github.com/dvloznov/s1a-ledger/internal/persist"
	"github.com/dvloznov/s1a-ledger/internal/voice"
	"github.com/rs/zerolog"
)

// ErrNotOpen is returned by operations that need Open to have run.
var ErrNotOpen = errors.New("session: not open")

// Gateway is the persistence the session drives.
type Gateway interface {
	Load(ctx context.Context) (domain.State, bool, error)
	Save(state domain.State)
	Clear(ctx context.Context) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Session is the top-level context of one running ledger.
type Session struct {
	Store *ledger.Store
	Voice *voice.Coordinator

	gateway Gateway
	log     zerolog.Logger

	mu          sync.Mutex
	open        bool
	unsubscribe func()
}

// New creates a session. The store should hold domain.DefaultState until Open loads the record.
func New(store *ledger.Store, gateway Gateway, coordinator *voice.Coordinator, log zerolog.Logger) *Session {
	return &Session{
		Store:   store,
		Voice:   coordinator,
		gateway: gateway,
		log:     log,
	}
}

// Open loads the persisted ledger, if any, and from then on saves every change.
// A failed load is logged and the built-in sample is kept.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}

	state, ok, err := s.gateway.Load(ctx)
	switch {
	case err != nil:
		s.log.Error().Err(err).Msg("failed to load saved ledger, starting from the sample")
	case ok:
		s.Store.ReplaceAll(state)
		s.log.Info().Int("transactions", len(state.Transactions)).Msg("saved ledger loaded")
	default:
		s.log.Info().Msg("no saved ledger, starting from the sample")
	}

	// Subscribing only now keeps the load's own replace out of the save stream.
	s.unsubscribe = s.Store.Subscribe(func(c ledger.Change) {
		if c.Kind == ledger.ChangeReset {
			return
		}
		s.gateway.Save(c.State)
	})
	s.open = true
	return nil
}

// Reset forgets in-flight dictations, restores the sample and erases the saved record.
// The record stays absent until the next edit.
func (s *Session) Reset(ctx context.Context) error {
	if !s.isOpen() {
		return ErrNotOpen
	}
	if s.Voice != nil {
		s.Voice.Reset()
	}
	sample := domain.DefaultState()
	s.Store.Reset(sample)
	if err := s.gateway.Clear(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	// Clear dropped any save queued while it ran; an edit made after the store reset must still reach disk.
	if current := s.Store.Snapshot(); !reflect.DeepEqual(current, sample) {
		s.gateway.Save(current)
	}
	s.log.Info().Msg("ledger reset to sample")
	return nil
}

// Import replaces the ledger with a JSON backup. On error nothing changes.
func (s *Session) Import(r io.Reader) (domain.State, error) {
	state, err := domain.DecodeImport(r)
	if err != nil {
		return domain.State{}, err
	}
	s.Store.ReplaceAll(state)
	s.log.Info().Int("transactions", len(state.Transactions)).Msg("ledger imported")
	return s.Store.Snapshot(), nil
}

// Close aborts live captures, stops saving and flushes what is pending.
func (s *Session) Close(ctx context.Context) error {
	if s.Voice != nil {
		s.Voice.Reset()
	}

	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.open = false
	s.mu.Unlock()

	if err := s.gateway.Close(ctx); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

func (s *Session) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

var _ Gateway = (*persist.Gateway)(nil)
