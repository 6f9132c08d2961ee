package voice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/capture"
	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/dvloznov/s1a-ledger/internal/jobs"
	"github.com/dvloznov/s1a-ledger/internal/transcribe"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultDescription names a SmartAdd row when the utterance carried no description.
const DefaultDescription = "Giao dịch mới"

var (
	// ErrTargetBusy is returned when a target already has a capture or a request in flight.
	ErrTargetBusy = errors.New("voice: target is busy")
	// ErrNotCapturing is returned when stopping a target that is not recording.
	ErrNotCapturing = errors.New("voice: target is not capturing")
	// ErrUnknownTarget is returned for an invalid target or a row that does not exist.
	ErrUnknownTarget = errors.New("voice: unknown target")
	// ErrStaleResult marks a result that arrived after a reset or after its row was removed.
	ErrStaleResult = errors.New("voice: result discarded")
)

// Transcriber is the transcription capability the coordinator routes to.
type Transcriber interface {
	TranscribeVerbatim(ctx context.Context, clip capture.Clip) (string, error)
	TranscribeNormalizedField(ctx context.Context, clip capture.Clip, field domain.InfoField) (string, error)
	ExtractTransaction(ctx context.Context, clip capture.Clip) (transcribe.PartialTransaction, error)
}

// Ledger is the set of mutators results are written through.
type Ledger interface {
	SetInfoField(field domain.InfoField, value string)
	UpdateTransactionField(id string, field domain.TransactionField, value string)
	AppendTransaction(t domain.Transaction) string
	Snapshot() domain.State
}

// Result is what one dictation wrote into the ledger.
type Result struct {
	Target string `json:"target"`
	// Text is the transcribed value for info and row targets.
	Text string `json:"text,omitempty"`
	// Transaction is the row created by SmartAdd.
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}

type entry struct {
	phase  Phase
	since  time.Time
	gen    uint64
	handle *capture.Handle
}

// Coordinator routes dictated clips to the right ledger field and keeps at most one
// capture or request in flight per target. Requests for different targets run concurrently.
type Coordinator struct {
	ledger   Ledger
	tr       Transcriber
	recorder capture.Recorder
	pub      jobs.Publisher
	ttl      time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	targets map[string]*entry
	status  *Status
	config  *Status
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRecorder enables server-side capture.
func WithRecorder(r capture.Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithPublisher makes Submit asynchronous through a job queue.
// The queue's handler must be Coordinator.HandleJob.
func WithPublisher(p jobs.Publisher) Option {
	return func(c *Coordinator) { c.pub = p }
}

// WithStatusTTL sets how long transient statuses stay visible.
func WithStatusTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock sets the clock used for status expiry and SmartAdd dates.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// New creates a coordinator writing into ledger.
func New(ledger Ledger, tr Transcriber, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:  ledger,
		tr:      tr,
		ttl:     3 * time.Second,
		now:     time.Now,
		log:     zerolog.Nop(),
		targets: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BeginCapture starts recording for target on the server's microphone.
func (c *Coordinator) BeginCapture(ctx context.Context, target Target) error {
	if err := c.checkTarget(target); err != nil {
		return err
	}
	if c.recorder == nil {
		c.setStatus(LevelError, MsgNoDevice, target)
		return capture.ErrDeviceUnavailable
	}

	e, err := c.reserve(target, PhaseCapturing)
	if err != nil {
		return err
	}

	h, err := c.recorder.Start(ctx)
	if err != nil {
		c.release(target, e)
		if !errors.Is(err, capture.ErrDeviceBusy) {
			c.setStatus(LevelError, MsgNoDevice, target)
		}
		return fmt.Errorf("begin capture %s: %w", target, err)
	}

	c.mu.Lock()
	if c.targets[target.Key()] != e {
		// Reset while the device was starting.
		c.mu.Unlock()
		c.recorder.Abort(h)
		return ErrStaleResult
	}
	e.handle = h
	c.mu.Unlock()

	c.log.Info().Str("target", target.Key()).Msg("capture started")
	return nil
}

// EndCapture stops recording for target and submits the clip.
func (c *Coordinator) EndCapture(ctx context.Context, target Target) (*jobs.VoiceJob, error) {
	c.mu.Lock()
	e, ok := c.targets[target.Key()]
	if !ok || e.phase != PhaseCapturing || e.handle == nil {
		c.mu.Unlock()
		return nil, ErrNotCapturing
	}
	h := e.handle
	e.handle = nil
	c.mu.Unlock()

	clip, err := c.recorder.Stop(h)
	if err != nil {
		c.release(target, e)
		msg := MsgNoDevice
		if errors.Is(err, capture.ErrEmptyClip) {
			msg = MsgRetry
		}
		c.setStatus(LevelError, msg, target)
		return nil, fmt.Errorf("end capture %s: %w", target, err)
	}

	c.mu.Lock()
	if c.targets[target.Key()] != e {
		c.mu.Unlock()
		return nil, ErrStaleResult
	}
	e.phase = target.workPhase()
	e.since = c.now()
	c.mu.Unlock()

	return c.dispatch(ctx, target, e, clip)
}

// CancelCapture stops recording for target and discards the audio.
func (c *Coordinator) CancelCapture(target Target) error {
	c.mu.Lock()
	e, ok := c.targets[target.Key()]
	if !ok || e.phase != PhaseCapturing {
		c.mu.Unlock()
		return ErrNotCapturing
	}
	h := e.handle
	delete(c.targets, target.Key())
	c.mu.Unlock()

	if h != nil {
		c.recorder.Abort(h)
	}
	c.log.Info().Str("target", target.Key()).Msg("capture cancelled")
	return nil
}

// Submit hands a clip recorded elsewhere to the model for target. With a publisher
// the work runs on the job queue and the returned job is pending; otherwise it runs
// before Submit returns.
func (c *Coordinator) Submit(ctx context.Context, target Target, clip capture.Clip) (*jobs.VoiceJob, error) {
	if err := c.checkTarget(target); err != nil {
		return nil, err
	}
	e, err := c.reserve(target, target.workPhase())
	if err != nil {
		return nil, err
	}
	return c.dispatch(ctx, target, e, clip)
}

// Dictate runs one clip for target synchronously and returns what was written.
func (c *Coordinator) Dictate(ctx context.Context, target Target, clip capture.Clip) (Result, error) {
	if err := c.checkTarget(target); err != nil {
		return Result{}, err
	}
	e, err := c.reserve(target, target.workPhase())
	if err != nil {
		return Result{}, err
	}
	return c.process(ctx, target, e, clip)
}

// HandleJob is the jobs.JobHandler for voice jobs published by Submit and EndCapture.
func (c *Coordinator) HandleJob(ctx context.Context, job *jobs.VoiceJob) error {
	target, err := ParseTarget(job.Target)
	if err != nil {
		return err
	}

	c.mu.Lock()
	e, ok := c.targets[target.Key()]
	if !ok || e.gen != job.Generation {
		c.mu.Unlock()
		job.Status = jobs.JobStatusDiscarded
		return nil
	}
	c.mu.Unlock()

	res, err := c.process(ctx, target, e, capture.Clip{Data: job.Clip, MIMEType: job.MIMEType})
	switch {
	case errors.Is(err, ErrStaleResult):
		job.Status = jobs.JobStatusDiscarded
		return nil
	case err != nil:
		return err
	}

	job.Result = res.Text
	if res.Transaction != nil {
		job.Result = res.Transaction.ID
	}
	return nil
}

// Reset forgets every in-flight request and capture. Results of requests already sent
// are ignored when they arrive.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.gen++
	var handles []*capture.Handle
	for _, e := range c.targets {
		if e.handle != nil {
			handles = append(handles, e.handle)
		}
	}
	c.targets = make(map[string]*entry)
	c.status = nil
	c.mu.Unlock()

	for _, h := range handles {
		c.recorder.Abort(h)
	}
}

// Markers returns the busy targets ordered by key.
func (c *Coordinator) Markers() []Marker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markersLocked()
}

// Phase returns the current phase of target.
func (c *Coordinator) Phase(target Target) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.targets[target.Key()]; ok {
		return e.phase
	}
	return PhaseIdle
}

// View returns the markers and the visible statuses.
func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.expired(c.now()) {
		c.status = nil
	}
	v := View{Markers: c.markersLocked()}
	if c.status != nil {
		s := *c.status
		v.Status = &s
	}
	if c.config != nil {
		s := *c.config
		v.Config = &s
	}
	return v
}

func (c *Coordinator) markersLocked() []Marker {
	out := make([]Marker, 0, len(c.targets))
	for key, e := range c.targets {
		out = append(out, Marker{Target: key, Phase: e.phase, Since: e.since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

func (c *Coordinator) checkTarget(target Target) error {
	if !target.valid() {
		return ErrUnknownTarget
	}
	if id, ok := target.TransactionID(); ok && !hasRow(c.ledger.Snapshot(), id) {
		return fmt.Errorf("%w: transaction %s", ErrUnknownTarget, id)
	}
	return nil
}

// reserve moves an idle target into phase.
func (c *Coordinator) reserve(target Target, phase Phase) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := target.Key()
	if _, busy := c.targets[key]; busy {
		return nil, fmt.Errorf("%w: %s", ErrTargetBusy, key)
	}
	e := &entry{phase: phase, since: c.now(), gen: c.gen}
	c.targets[key] = e
	if phase == PhaseExtracting {
		c.status = &Status{Level: LevelProgress, Message: MsgAnalyzing, Target: key}
	}
	return e, nil
}

// release returns target to idle unless it was reset and reused meanwhile.
func (c *Coordinator) release(target Target, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(target, e)
}

func (c *Coordinator) releaseLocked(target Target, e *entry) {
	if c.targets[target.Key()] == e {
		delete(c.targets, target.Key())
	}
}

func (c *Coordinator) dispatch(ctx context.Context, target Target, e *entry, clip capture.Clip) (*jobs.VoiceJob, error) {
	job := &jobs.VoiceJob{
		JobID:      uuid.NewString(),
		Target:     target.Key(),
		MIMEType:   clip.MIMEType,
		Clip:       clip.Data,
		Generation: e.gen,
		Status:     jobs.JobStatusPending,
		CreatedAt:  c.now(),
	}

	if c.pub == nil {
		res, err := c.process(ctx, target, e, clip)
		done := c.now()
		job.Clip = nil
		job.CompletedAt = &done
		switch {
		case errors.Is(err, ErrStaleResult):
			job.Status = jobs.JobStatusDiscarded
		case err != nil:
			job.Status = jobs.JobStatusFailed
			job.Error = err.Error()
			return job, err
		default:
			job.Status = jobs.JobStatusCompleted
			job.Result = res.Text
			if res.Transaction != nil {
				job.Result = res.Transaction.ID
			}
		}
		return job, nil
	}

	queued := *job
	queued.Clip = nil
	if err := c.pub.PublishVoice(ctx, job); err != nil {
		c.release(target, e)
		return nil, fmt.Errorf("submit %s: %w", target, err)
	}
	c.log.Debug().Str("job_id", queued.JobID).Str("target", queued.Target).Msg("voice job queued")
	return &queued, nil
}

// process asks the model about clip and writes the answer into the ledger.
// The target is released whatever happens.
func (c *Coordinator) process(ctx context.Context, target Target, e *entry, clip capture.Clip) (Result, error) {
	defer c.release(target, e)

	res := Result{Target: target.Key()}
	var (
		text string
		tx   transcribe.PartialTransaction
		err  error
	)
	field, _ := target.Field()
	switch {
	case target.IsSmartAdd():
		tx, err = c.tr.ExtractTransaction(ctx, clip)
	case target.kind == kindInfo:
		text, err = c.tr.TranscribeNormalizedField(ctx, clip, field)
	default:
		text, err = c.tr.TranscribeVerbatim(ctx, clip)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.targets[target.Key()] != e {
		c.log.Info().Str("target", target.Key()).Msg("ignoring result for a reset target")
		return res, ErrStaleResult
	}

	if err != nil {
		c.failLocked(target, err)
		return res, err
	}

	switch {
	case target.IsSmartAdd():
		row := domain.Transaction{Date: tx.Date, Description: tx.Description, Amount: tx.Amount}
		if row.Description == "" {
			row.Description = DefaultDescription
		}
		if row.Date == "" {
			row.Date = domain.FormatDate(c.now())
		}
		row.ID = c.ledger.AppendTransaction(row)
		res.Transaction = &row
		c.setStatusLocked(LevelSuccess, MsgAdded, target)
	case target.kind == kindInfo:
		c.ledger.SetInfoField(field, text)
		res.Text = text
		c.setStatusLocked(LevelSuccess, MsgUpdated, target)
	default:
		id, _ := target.TransactionID()
		if !hasRow(c.ledger.Snapshot(), id) {
			c.log.Info().Str("target", target.Key()).Msg("ignoring result for a removed row")
			return res, ErrStaleResult
		}
		c.ledger.UpdateTransactionField(id, domain.TransactionDescription, text)
		res.Text = text
		c.setStatusLocked(LevelSuccess, MsgUpdated, target)
	}

	c.config = nil
	c.log.Info().Str("target", target.Key()).Msg("dictation applied")
	return res, nil
}

func (c *Coordinator) failLocked(target Target, err error) {
	if transcribe.IsCredentialMissing(err) {
		c.config = &Status{Level: LevelConfig, Message: MsgCredential, Target: target.Key()}
		if c.status != nil && c.status.Target == target.Key() {
			c.status = nil
		}
		c.log.Error().Err(err).Str("target", target.Key()).Msg("transcription credential missing")
		return
	}
	c.setStatusLocked(LevelError, MsgRetry, target)
	c.log.Warn().Err(err).Str("target", target.Key()).Msg("transcription failed")
}

func (c *Coordinator) setStatus(level StatusLevel, msg string, target Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStatusLocked(level, msg, target)
}

func (c *Coordinator) setStatusLocked(level StatusLevel, msg string, target Target) {
	c.status = &Status{Level: level, Message: msg, Target: target.Key(), ExpiresAt: c.now().Add(c.ttl)}
}

func hasRow(state domain.State, id string) bool {
	for _, t := range state.Transactions {
		if t.ID == id {
			return true
		}
	}
	return false
}
