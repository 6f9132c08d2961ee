package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/rs/zerolog"
)

const (
	// StoreName is the logical store holding the ledger record.
	StoreName = "form_data"
	// RecordKey is the single slot the whole ledger is saved under.
	RecordKey = "current_s1a_state"
)

var (
	ErrAlreadyLoaded = errors.New("persist: state already loaded")
	ErrClosed        = errors.New("persist: gateway closed")
)

// Backend is a durable key-value store scoped to this application.
type Backend interface {
	// Get returns the value under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Gateway saves and loads the whole ledger as one record.
//
// Save never blocks. Snapshots are handed to a single writer goroutine that
// does nothing until Load has finished, successfully or not, and then writes
// the latest snapshot once the debounce window has passed without new saves.
type Gateway struct {
	backend  Backend
	log      zerolog.Logger
	debounce time.Duration

	loadOnce sync.Once
	loaded   chan struct{}

	mu      sync.Mutex
	pending *domain.State
	closed  bool

	// writeMu orders record writes against Clear.
	writeMu sync.Mutex

	kick    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithDebounce sets the coalescing window. Zero writes each snapshot immediately.
func WithDebounce(d time.Duration) Option {
	return func(g *Gateway) {
		if d < 0 {
			d = 0
		}
		g.debounce = d
	}
}

// WithLogger sets the logger used for write failures.
func WithLogger(log zerolog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// New creates a gateway over backend and starts its writer.
func New(backend Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backend:  backend,
		log:      zerolog.Nop(),
		debounce: 500 * time.Millisecond,
		loaded:   make(chan struct{}),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	go g.run()
	return g
}

// Load reads the persisted ledger. It may be called once; afterwards writes are allowed
// even if the read failed. ok is false when nothing was saved yet.
func (g *Gateway) Load(ctx context.Context) (state domain.State, ok bool, err error) {
	err = ErrAlreadyLoaded
	g.loadOnce.Do(func() {
		defer close(g.loaded)
		state, ok, err = g.read(ctx)
	})
	return state, ok, err
}

func (g *Gateway) read(ctx context.Context) (domain.State, bool, error) {
	raw, ok, err := g.backend.Get(ctx, RecordKey)
	if err != nil {
		return domain.State{}, false, fmt.Errorf("load %s/%s: %w", StoreName, RecordKey, err)
	}
	if !ok {
		return domain.State{}, false, nil
	}
	state, err := domain.DecodeImport(bytes.NewReader(raw))
	if err != nil {
		return domain.State{}, false, fmt.Errorf("load %s/%s: %w", StoreName, RecordKey, err)
	}
	return state, true, nil
}

// Save schedules state to be written. Only the latest pending snapshot is kept.
func (g *Gateway) Save(state domain.State) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.log.Warn().Msg("save after close dropped")
		return
	}
	s := state.Clone()
	g.pending = &s
	g.mu.Unlock()

	select {
	case g.kick <- struct{}{}:
	default:
	}
}

// Clear drops any pending snapshot and deletes the persisted record.
func (g *Gateway) Clear(ctx context.Context) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	g.pending = nil
	g.mu.Unlock()

	if err := g.backend.Delete(ctx, RecordKey); err != nil {
		return fmt.Errorf("clear %s/%s: %w", StoreName, RecordKey, err)
	}
	return nil
}

// Flush writes the pending snapshot now, skipping the debounce window.
// Nothing is written while the initial load is outstanding.
func (g *Gateway) Flush(ctx context.Context) error {
	select {
	case <-g.loaded:
	default:
		return nil
	}
	return g.writePending(ctx)
}

// Close stops the writer and flushes what is pending.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	close(g.done)
	select {
	case <-g.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.Flush(ctx)
}

func (g *Gateway) run() {
	defer close(g.stopped)

	select {
	case <-g.loaded:
	case <-g.done:
		return
	}

	for {
		select {
		case <-g.kick:
		case <-g.done:
			return
		}

		if g.debounce > 0 && !g.settle() {
			return
		}

		if err := g.writePending(context.Background()); err != nil {
			g.log.Error().Err(err).Msg("failed to persist ledger")
		}
	}
}

// settle waits until no save arrived for one debounce window. It reports false on close.
func (g *Gateway) settle() bool {
	timer := time.NewTimer(g.debounce)
	defer timer.Stop()
	for {
		select {
		case <-g.kick:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(g.debounce)
		case <-timer.C:
			return true
		case <-g.done:
			return false
		}
	}
}

func (g *Gateway) writePending(ctx context.Context) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	g.mu.Lock()
	state := g.pending
	g.pending = nil
	g.mu.Unlock()

	if state == nil {
		return nil
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	if err := g.backend.Put(ctx, RecordKey, raw); err != nil {
		return fmt.Errorf("save %s/%s: %w", StoreName, RecordKey, err)
	}
	g.log.Debug().Int("transactions", len(state.Transactions)).Msg("ledger persisted")
	return nil
}
