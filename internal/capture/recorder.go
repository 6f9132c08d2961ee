package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrDeviceBusy is returned when a capture is already running on the device.
	ErrDeviceBusy = errors.New("capture: microphone is busy")
	// ErrDeviceUnavailable covers a missing recorder binary, a missing device and denied access.
	ErrDeviceUnavailable = errors.New("microphone unavailable")
	// ErrNotCapturing is returned when a handle does not belong to the running capture.
	ErrNotCapturing = errors.New("capture: no such capture in progress")
	// ErrEmptyClip is returned when the recorder stopped without producing audio.
	ErrEmptyClip = errors.New("capture: recording is empty")
)

// Clip is one encoded recording.
type Clip struct {
	Data     []byte
	MIMEType string
}

// Handle identifies a running capture.
type Handle struct {
	ID        string
	MIMEType  string
	StartedAt time.Time

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    *bytes.Buffer
	stderr *bytes.Buffer
	exited chan struct{}
	err    error // set before exited is closed
}

// Recorder records clips from a microphone. Only one capture runs at a time.
type Recorder interface {
	Start(ctx context.Context) (*Handle, error)
	Stop(h *Handle) (Clip, error)
	Abort(h *Handle)
}

// FFmpegRecorder records from a local input device through ffmpeg.
type FFmpegRecorder struct {
	Binary      string        // ffmpeg executable
	Format      string        // input format, e.g. "pulse", "alsa", "avfoundation"
	Device      string        // input device, e.g. "default" or ":0"
	MaxDuration time.Duration // hard cap on clip length, zero for none
	Supported   []string      // encodings to negotiate from, defaults to SupportedMIMETypes
	StopTimeout time.Duration // how long Stop waits for ffmpeg to finish before killing it

	Log zerolog.Logger

	// command builds the process; tests replace it.
	command func(name string, args ...string) *exec.Cmd

	mu     sync.Mutex
	active *Handle
}

// NewFFmpegRecorder creates a recorder for the given ffmpeg input.
func NewFFmpegRecorder(binary, format, device string, maxDuration time.Duration, log zerolog.Logger) *FFmpegRecorder {
	return &FFmpegRecorder{
		Binary:      binary,
		Format:      format,
		Device:      device,
		MaxDuration: maxDuration,
		StopTimeout: 5 * time.Second,
		Log:         log,
		command:     exec.Command,
	}
}

// Start acquires the device and begins recording.
func (r *FFmpegRecorder) Start(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, ErrDeviceBusy
	}

	supported := r.Supported
	if len(supported) == 0 {
		supported = SupportedMIMETypes()
	}
	mime := NegotiateMIMEType(PreferredMIMETypes, supported)

	command := r.command
	if command == nil {
		command = exec.Command
	}
	cmd := command(r.Binary, r.args(mime)...)

	h := &Handle{
		ID:        uuid.NewString(),
		MIMEType:  mime,
		StartedAt: time.Now(),
		cmd:       cmd,
		out:       &bytes.Buffer{},
		stderr:    &bytes.Buffer{},
		exited:    make(chan struct{}),
	}
	cmd.Stdout = h.out
	cmd.Stderr = h.stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	h.stdin = stdin

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrDeviceUnavailable, r.Binary, err)
	}

	go func() {
		h.err = cmd.Wait()
		close(h.exited)
	}()

	r.active = h
	r.Log.Debug().Str("capture_id", h.ID).Str("mime_type", mime).Msg("capture started")
	return h, nil
}

// Stop ends the recording gracefully and returns the clip. The device is released on every path.
func (r *FFmpegRecorder) Stop(h *Handle) (Clip, error) {
	if err := r.release(h); err != nil {
		return Clip{}, err
	}

	// ffmpeg finishes the container and exits when it reads 'q'.
	_, _ = io.WriteString(h.stdin, "q\n")
	_ = h.stdin.Close()

	timeout := r.StopTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-h.exited:
	case <-time.After(timeout):
		r.Log.Warn().Str("capture_id", h.ID).Msg("recorder did not stop in time, killing it")
		_ = h.cmd.Process.Kill()
		<-h.exited
	}

	if h.out.Len() == 0 {
		if h.err != nil {
			return Clip{}, fmt.Errorf("%w: %v: %s", ErrDeviceUnavailable, h.err, lastLine(h.stderr.String()))
		}
		return Clip{}, ErrEmptyClip
	}
	if h.err != nil {
		r.Log.Warn().Err(h.err).Str("capture_id", h.ID).Msg("recorder exited with error, keeping recorded audio")
	}

	r.Log.Debug().Str("capture_id", h.ID).Int("bytes", h.out.Len()).Msg("capture stopped")
	return Clip{Data: bytes.Clone(h.out.Bytes()), MIMEType: h.MIMEType}, nil
}

// Abort kills the recording and discards its audio.
func (r *FFmpegRecorder) Abort(h *Handle) {
	if err := r.release(h); err != nil {
		return
	}
	_ = h.stdin.Close()
	_ = h.cmd.Process.Kill()
	<-h.exited
	h.out.Reset()
	r.Log.Debug().Str("capture_id", h.ID).Msg("capture aborted")
}

func (r *FFmpegRecorder) release(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil || r.active != h {
		return ErrNotCapturing
	}
	r.active = nil
	return nil
}

func (r *FFmpegRecorder) args(mime string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostats"}
	if r.Format != "" {
		args = append(args, "-f", r.Format)
	}
	args = append(args, "-i", r.Device, "-ac", "1")
	if r.MaxDuration > 0 {
		args = append(args, "-t", strconv.FormatFloat(r.MaxDuration.Seconds(), 'f', -1, 64))
	}
	args = append(args, encoderArgs[mime]...)
	return append(args, "pipe:1")
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

var _ Recorder = (*FFmpegRecorder)(nil)
