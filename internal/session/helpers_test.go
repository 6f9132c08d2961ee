package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/dvloznov/s1a-ledger/internal/capture"
	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/dvloznov/s1a-ledger/internal/persist"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, s domain.State) []byte {
	t.Helper()
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	return raw
}

// MockRecorder counts captures started and aborted.
type MockRecorder struct {
	mu      sync.Mutex
	started int
	aborted int
}

func (m *MockRecorder) Start(ctx context.Context) (*capture.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	return &capture.Handle{}, nil
}

func (m *MockRecorder) Stop(h *capture.Handle) (capture.Clip, error) {
	return capture.Clip{Data: []byte("audio"), MIMEType: capture.DefaultMIMEType}, nil
}

func (m *MockRecorder) Abort(h *capture.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted++
}

func (m *MockRecorder) Aborted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aborted
}

// blockingDeleteBackend holds Delete until release is closed.
type blockingDeleteBackend struct {
	*persist.MemoryBackend
	entered chan struct{}
	release chan struct{}
}

func newBlockingDeleteBackend() *blockingDeleteBackend {
	return &blockingDeleteBackend{
		MemoryBackend: persist.NewMemoryBackend(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (b *blockingDeleteBackend) Delete(ctx context.Context, key string) error {
	close(b.entered)
	<-b.release
	return b.MemoryBackend.Delete(ctx, key)
}
