package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/capture"
	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/dvloznov/s1a-ledger/internal/jobs"
	"github.com/dvloznov/s1a-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/s1a-ledger/internal/ledger"
	"github.com/dvloznov/s1a-ledger/internal/transcribe"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockTranscriber is a mock implementation of Transcriber.
type MockTranscriber struct {
	VerbatimFunc   func(ctx context.Context, clip capture.Clip) (string, error)
	NormalizedFunc func(ctx context.Context, clip capture.Clip, field domain.InfoField) (string, error)
	ExtractFunc    func(ctx context.Context, clip capture.Clip) (transcribe.PartialTransaction, error)
}

func (m *MockTranscriber) TranscribeVerbatim(ctx context.Context, clip capture.Clip) (string, error) {
	if m.VerbatimFunc != nil {
		return m.VerbatimFunc(ctx, clip)
	}
	return "", errors.New("not implemented")
}

func (m *MockTranscriber) TranscribeNormalizedField(ctx context.Context, clip capture.Clip, field domain.InfoField) (string, error) {
	if m.NormalizedFunc != nil {
		return m.NormalizedFunc(ctx, clip, field)
	}
	return "", errors.New("not implemented")
}

func (m *MockTranscriber) ExtractTransaction(ctx context.Context, clip capture.Clip) (transcribe.PartialTransaction, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, clip)
	}
	return transcribe.PartialTransaction{}, errors.New("not implemented")
}

// MockRecorder is a mock implementation of capture.Recorder.
type MockRecorder struct {
	StartErr error
	StopErr  error
	Clip     capture.Clip

	mu      sync.Mutex
	aborted int
}

func (m *MockRecorder) Start(ctx context.Context) (*capture.Handle, error) {
	if m.StartErr != nil {
		return nil, m.StartErr
	}
	return &capture.Handle{ID: "h", MIMEType: m.Clip.MIMEType}, nil
}

func (m *MockRecorder) Stop(h *capture.Handle) (capture.Clip, error) {
	return m.Clip, m.StopErr
}

func (m *MockRecorder) Abort(h *capture.Handle) {
	m.mu.Lock()
	m.aborted++
	m.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testClip = capture.Clip{Data: []byte("OggS"), MIMEType: "audio/ogg"}

func newTestCoordinator(tr Transcriber, opts ...Option) (*Coordinator, *ledger.Store, *clock) {
	clk := &clock{now: time.Date(2024, time.June, 3, 9, 0, 0, 0, time.UTC)}
	store := ledger.NewStore(domain.DefaultState(), ledger.WithClock(clk.Now))
	opts = append([]Option{WithClock(clk.Now), WithStatusTTL(3 * time.Second)}, opts...)
	return New(store, tr, opts...), store, clk
}

func TestParseTarget(t *testing.T) {
	for _, target := range []Target{SmartAdd, InfoTarget(domain.FieldPeriod), RowTarget("abc-1")} {
		got, err := ParseTarget(target.Key())
		require.NoError(t, err)
		assert.Equal(t, target, got)
	}

	assert.Equal(t, "info:taxId", InfoTarget(domain.FieldTaxID).Key())
	assert.Equal(t, "transaction:7", RowTarget("7").Key())
	assert.Equal(t, "smart-add", SmartAdd.Key())

	for _, bad := range []string{"", "info:phone", "transaction:", "trans-1", "smart"} {
		_, err := ParseTarget(bad)
		assert.Error(t, err, bad)
	}
}

func TestDictate_SmartAdd(t *testing.T) {
	tr := &MockTranscriber{ExtractFunc: func(ctx context.Context, clip capture.Clip) (transcribe.PartialTransaction, error) {
		return transcribe.PartialTransaction{Description: "Bán hàng", Amount: 200000, Date: "03/06/2024"}, nil
	}}
	c, store, _ := newTestCoordinator(tr)

	res, err := c.Dictate(context.Background(), SmartAdd, testClip)
	require.NoError(t, err)
	require.NotNil(t, res.Transaction)

	snap := store.Snapshot()
	require.Len(t, snap.Transactions, 3)
	last := snap.Transactions[2]
	assert.Equal(t, res.Transaction.ID, last.ID)
	assert.NotContains(t, []string{"1", "2"}, last.ID)
	assert.Equal(t, "Bán hàng", last.Description)
	assert.Equal(t, int64(200000), last.Amount)
	assert.Equal(t, "03/06/2024", last.Date)

	view := c.View()
	assert.Empty(t, view.Markers)
	require.NotNil(t, view.Status)
	assert.Equal(t, MsgAdded, view.Status.Message)
}

func TestDictate_SmartAddDefaults(t *testing.T) {
	tr := &MockTranscriber{ExtractFunc: func(ctx context.Context, clip capture.Clip) (transcribe.PartialTransaction, error) {
		return transcribe.PartialTransaction{Amount: 5000}, nil
	}}
	c, store, _ := newTestCoordinator(tr)

	_, err := c.Dictate(context.Background(), SmartAdd, testClip)
	require.NoError(t, err)

	last := store.Snapshot().Transactions[2]
	assert.Equal(t, DefaultDescription, last.Description)
	assert.Equal(t, "03/06/2024", last.Date)
}

func TestDictate_InfoField(t *testing.T) {
	var gotField domain.InfoField
	tr := &MockTranscriber{NormalizedFunc: func(ctx context.Context, clip capture.Clip, field domain.InfoField) (string, error) {
		gotField = field
		return "Quý 2/2024", nil
	}}
	c, store, _ := newTestCoordinator(tr)

	res, err := c.Dictate(context.Background(), InfoTarget(domain.FieldPeriod), testClip)
	require.NoError(t, err)
	assert.Equal(t, "Quý 2/2024", res.Text)
	assert.Equal(t, domain.FieldPeriod, gotField)
	assert.Equal(t, "Quý 2/2024", store.Snapshot().Info.Period)
	assert.Equal(t, MsgUpdated, c.View().Status.Message)
}

func TestDictate_RowDescription(t *testing.T) {
	tr := &MockTranscriber{VerbatimFunc: func(ctx context.Context, clip capture.Clip) (string, error) {
		return "Bán nước ngọt", nil
	}}
	c, store, _ := newTestCoordinator(tr)

	_, err := c.Dictate(context.Background(), RowTarget("2"), testClip)
	require.NoError(t, err)
	snap := store.Snapshot()
	assert.Equal(t, "Bán nước ngọt", snap.Transactions[1].Description)
	assert.Equal(t, int64(500000), snap.Transactions[1].Amount)

	_, err = c.Dictate(context.Background(), RowTarget("missing"), testClip)
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestDictate_FailureLeavesLedgerUntouched(t *testing.T) {
	tr := &MockTranscriber{ExtractFunc: func(ctx context.Context, clip capture.Clip) (transcribe.PartialTransaction, error) {
		return transcribe.PartialTransaction{}, &transcribe.Error{Kind: transcribe.KindNetwork, Op: "ExtractTransaction", Err: errors.New("timeout")}
	}}
	c, store, clk := newTestCoordinator(tr)

	_, err := c.Dictate(context.Background(), SmartAdd, testClip)
	require.Error(t, err)

	assert.Equal(t, domain.DefaultState(), store.Snapshot())
	assert.Equal(t, PhaseIdle, c.Phase(SmartAdd))

	view := c.View()
	require.NotNil(t, view.Status)
	assert.Equal(t, MsgRetry, view.Status.Message)
	assert.Nil(t, view.Config)

	clk.Advance(3 * time.Second)
	assert.Nil(t, c.View().Status, "transient status must expire")
}

func TestDictate_CredentialMissing(t *testing.T) {
	fail := true
	tr := &MockTranscriber{NormalizedFunc: func(ctx context.Context, clip capture.Clip, field domain.InfoField) (string, error) {
		if fail {
			return "", &transcribe.Error{Kind: transcribe.KindCredentialMissing, Op: "TranscribeNormalizedField", Err: transcribe.ErrNoCredential}
		}
		return "Nguyễn Thị E", nil
	}}
	c, store, clk := newTestCoordinator(tr)

	_, err := c.Dictate(context.Background(), InfoTarget(domain.FieldName), testClip)
	require.Error(t, err)
	assert.True(t, transcribe.IsCredentialMissing(err))
	assert.Equal(t, "Nguyễn Văn A", store.Snapshot().Info.Name)

	clk.Advance(time.Hour)
	view := c.View()
	require.NotNil(t, view.Config, "configuration status must persist")
	assert.Equal(t, LevelConfig, view.Config.Level)
	assert.Equal(t, MsgCredential, view.Config.Message)
	assert.Nil(t, view.Status)

	fail = false
	_, err = c.Dictate(context.Background(), InfoTarget(domain.FieldName), testClip)
	require.NoError(t, err)
	assert.Nil(t, c.View().Config)
}

func TestSubmit_TargetBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	tr := &MockTranscriber{
		ExtractFunc: func(ctx context.Context, clip capture.Clip) (transcribe.PartialTransaction, error) {
			started <- struct{}{}
			<-release
			return transcribe.PartialTransaction{Description: "Bán hàng", Amount: 1}, nil
		},
		VerbatimFunc: func(ctx context.Context, clip capture.Clip) (string, error) {
			started <- struct{}{}
			<-release
			return "Giao hàng", nil
		},
	}
	c, store, _ := newTestCoordinator(tr)

	var wg sync.WaitGroup
	for _, target := range []Target{SmartAdd, RowTarget("1")} {
		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			_, err := c.Dictate(context.Background(), target, testClip)
			assert.NoError(t, err)
		}(target)
	}
	<-started
	<-started

	markers := c.Markers()
	require.Len(t, markers, 2)
	assert.Equal(t, Marker{Target: "smart-add", Phase: PhaseExtracting, Since: markers[0].Since}, markers[0])
	assert.Equal(t, PhaseTranscribing, markers[1].Phase)
	assert.Equal(t, MsgAnalyzing, c.View().Status.Message)

	_, err := c.Dictate(context.Background(), SmartAdd, testClip)
	assert.ErrorIs(t, err, ErrTargetBusy)
	_, err = c.Submit(context.Background(), RowTarget("1"), testClip)
	assert.ErrorIs(t, err, ErrTargetBusy)

	close(release)
	wg.Wait()

	assert.Empty(t, c.Markers())
	snap := store.Snapshot()
	assert.Len(t, snap.Transactions, 3)
	assert.Equal(t, "Giao hàng", snap.Transactions[0].Description)
}

func TestReset_DiscardsInFlightResults(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	tr := &MockTranscriber{ExtractFunc: func(ctx context.Context, clip capture.Clip) (transcribe.PartialTransaction, error) {
		started <- struct{}{}
		<-release
		return transcribe.PartialTransaction{Description: "old", Amount: 1}, nil
	}}
	c, store, _ := newTestCoordinator(tr)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Dictate(context.Background(), SmartAdd, testClip)
		errc <- err
	}()
	<-started

	c.Reset()
	assert.Empty(t, c.Markers())
	assert.Equal(t, PhaseIdle, c.Phase(SmartAdd))

	close(release)
	assert.ErrorIs(t, <-errc, ErrStaleResult)
	assert.Len(t, store.Snapshot().Transactions, 2)
}

func TestReset_NewRequestNotClearedByOldOne(t *testing.T) {
	firstRelease := make(chan struct{})
	started := make(chan struct{}, 2)
	calls := 0
	var mu sync.Mutex
	tr := &MockTranscriber{NormalizedFunc: func(ctx context.Context, clip capture.Clip, field domain.InfoField) (string, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		started <- struct{}{}
		if n == 1 {
			<-firstRelease
			return "cũ", nil
		}
		return "mới", nil
	}}
	c, store, _ := newTestCoordinator(tr)
	target := InfoTarget(domain.FieldAddress)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Dictate(context.Background(), target, testClip)
		errc <- err
	}()
	<-started
	c.Reset()

	_, err := c.Dictate(context.Background(), target, testClip)
	require.NoError(t, err)
	<-started

	close(firstRelease)
	assert.ErrorIs(t, <-errc, ErrStaleResult)
	assert.Equal(t, "mới", store.Snapshot().Info.Address)
}

func TestDictate_RowRemovedWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	tr := &MockTranscriber{VerbatimFunc: func(ctx context.Context, clip capture.Clip) (string, error) {
		started <- struct{}{}
		<-release
		return "late", nil
	}}
	c, store, _ := newTestCoordinator(tr)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Dictate(context.Background(), RowTarget("1"), testClip)
		errc <- err
	}()
	<-started
	store.RemoveTransaction("1")
	close(release)

	assert.ErrorIs(t, <-errc, ErrStaleResult)
	snap := store.Snapshot()
	require.Len(t, snap.Transactions, 1)
	assert.Equal(t, "Cung cấp dịch vụ giao hàng", snap.Transactions[0].Description)
	assert.Empty(t, c.Markers())
}

func TestCapture_Flow(t *testing.T) {
	rec := &MockRecorder{Clip: testClip}
	tr := &MockTranscriber{NormalizedFunc: func(ctx context.Context, clip capture.Clip, field domain.InfoField) (string, error) {
		assert.Equal(t, testClip, clip)
		return "8000999999", nil
	}}
	c, store, _ := newTestCoordinator(tr, WithRecorder(rec))
	target := InfoTarget(domain.FieldTaxID)
	ctx := context.Background()

	require.NoError(t, c.BeginCapture(ctx, target))
	assert.Equal(t, PhaseCapturing, c.Phase(target))
	assert.ErrorIs(t, c.BeginCapture(ctx, target), ErrTargetBusy)

	job, err := c.EndCapture(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusCompleted, job.Status)
	assert.Equal(t, "8000999999", job.Result)
	assert.Equal(t, "8000999999", store.Snapshot().Info.TaxID)
	assert.Equal(t, PhaseIdle, c.Phase(target))

	_, err = c.EndCapture(ctx, target)
	assert.ErrorIs(t, err, ErrNotCapturing)
}

func TestCapture_Cancel(t *testing.T) {
	rec := &MockRecorder{Clip: testClip}
	c, store, _ := newTestCoordinator(&MockTranscriber{}, WithRecorder(rec))
	ctx := context.Background()

	require.NoError(t, c.BeginCapture(ctx, SmartAdd))
	require.NoError(t, c.CancelCapture(SmartAdd))
	assert.Equal(t, 1, rec.aborted)
	assert.Equal(t, PhaseIdle, c.Phase(SmartAdd))
	assert.Equal(t, domain.DefaultState(), store.Snapshot())

	assert.ErrorIs(t, c.CancelCapture(SmartAdd), ErrNotCapturing)

	require.NoError(t, c.BeginCapture(ctx, SmartAdd))
	c.Reset()
	assert.Equal(t, 2, rec.aborted)
}

func TestCapture_DeviceUnavailable(t *testing.T) {
	c, _, _ := newTestCoordinator(&MockTranscriber{})
	err := c.BeginCapture(context.Background(), SmartAdd)
	assert.ErrorIs(t, err, capture.ErrDeviceUnavailable)
	assert.Equal(t, MsgNoDevice, c.View().Status.Message)

	rec := &MockRecorder{StartErr: capture.ErrDeviceUnavailable}
	c, _, _ = newTestCoordinator(&MockTranscriber{}, WithRecorder(rec))
	err = c.BeginCapture(context.Background(), SmartAdd)
	assert.ErrorIs(t, err, capture.ErrDeviceUnavailable)
	assert.Equal(t, PhaseIdle, c.Phase(SmartAdd))

	rec = &MockRecorder{StopErr: capture.ErrEmptyClip}
	c, _, _ = newTestCoordinator(&MockTranscriber{}, WithRecorder(rec))
	require.NoError(t, c.BeginCapture(context.Background(), SmartAdd))
	_, err = c.EndCapture(context.Background(), SmartAdd)
	assert.ErrorIs(t, err, capture.ErrEmptyClip)
	assert.Equal(t, PhaseIdle, c.Phase(SmartAdd))
	assert.Equal(t, MsgRetry, c.View().Status.Message)
}

func TestSubmit_Async(t *testing.T) {
	tr := &MockTranscriber{ExtractFunc: func(ctx context.Context, clip capture.Clip) (transcribe.PartialTransaction, error) {
		return transcribe.PartialTransaction{Description: "Bán hàng", Amount: 200000}, nil
	}}
	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(8, 2, jobStore, zerolog.Nop())
	c, store, _ := newTestCoordinator(tr, WithPublisher(queue))

	ctx := context.Background()
	require.NoError(t, queue.Start(ctx, c.HandleJob))
	defer queue.Stop(ctx)

	job, err := c.Submit(ctx, SmartAdd, testClip)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, job.Status)
	assert.Nil(t, job.Clip)

	var done *jobs.VoiceJob
	require.Eventually(t, func() bool {
		done, err = jobStore.GetJob(ctx, job.JobID)
		return err == nil && done.Status == jobs.JobStatusCompleted
	}, time.Second, 5*time.Millisecond)

	snap := store.Snapshot()
	require.Len(t, snap.Transactions, 3)
	assert.Equal(t, snap.Transactions[2].ID, done.Result)
	assert.Empty(t, c.Markers())
}

func TestHandleJob_StaleGeneration(t *testing.T) {
	c, store, _ := newTestCoordinator(&MockTranscriber{})
	job := &jobs.VoiceJob{Target: "smart-add", Generation: 5, Clip: testClip.Data}

	require.NoError(t, c.HandleJob(context.Background(), job))
	assert.Equal(t, jobs.JobStatusDiscarded, job.Status)
	assert.Equal(t, domain.DefaultState(), store.Snapshot())

	assert.Error(t, c.HandleJob(context.Background(), &jobs.VoiceJob{Target: "nope"}))
}
