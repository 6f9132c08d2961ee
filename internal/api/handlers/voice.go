package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/dvloznov/s1a-ledger/internal/api/middleware"
	"github.com/dvloznov/s1a-ledger/internal/capture"
	"github.com/dvloznov/s1a-ledger/internal/logger"
	"github.com/dvloznov/s1a-ledger/internal/voice"
)

// VoiceHandler handles dictation endpoints.
type VoiceHandler struct {
	voice *voice.Coordinator
}

// NewVoiceHandler creates a new voice handler.
func NewVoiceHandler(c *voice.Coordinator) *VoiceHandler {
	return &VoiceHandler{voice: c}
}

func (h *VoiceHandler) target(w http.ResponseWriter, r *http.Request) (voice.Target, bool) {
	target, err := voice.ParseTarget(r.PathValue("target"))
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, err.Error())
		return voice.Target{}, false
	}
	return target, true
}

// Submit handles POST /api/voice/{target}. The body is the recorded clip and
// Content-Type its MIME type.
func (h *VoiceHandler) Submit(w http.ResponseWriter, r *http.Request) {
	target, ok := h.target(w, r)
	if !ok {
		return
	}
	log := logger.FromContext(r.Context())

	clip, err := capture.ClipFromUpload(r.Body, r.Header.Get("Content-Type"), capture.MaxUploadBytes)
	if err != nil {
		writeErr(w, err)
		return
	}

	job, err := h.voice.Submit(r.Context(), target, clip)
	if err != nil {
		log.Warn().Err(err).Str("target", target.Key()).Msg("Dictation failed")
		writeErr(w, err)
		return
	}

	log.Info().Str("job_id", job.JobID).Str("target", job.Target).Msg("Dictation accepted")
	middleware.WriteJSON(w, http.StatusAccepted, job)
}

// Capture handles POST /api/voice/{target}/capture/{action} for the server's own
// microphone. action is start, stop or cancel.
func (h *VoiceHandler) Capture(w http.ResponseWriter, r *http.Request) {
	target, ok := h.target(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	log := logger.FromContext(ctx)

	switch r.PathValue("action") {
	case "start":
		// The recording outlives the request.
		if err := h.voice.BeginCapture(context.WithoutCancel(ctx), target); err != nil {
			if !errors.Is(err, voice.ErrTargetBusy) {
				log.Warn().Err(err).Str("target", target.Key()).Msg("Failed to start capture")
			}
			writeErr(w, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, h.voice.View())
	case "stop":
		job, err := h.voice.EndCapture(context.WithoutCancel(ctx), target)
		if err != nil {
			log.Warn().Err(err).Str("target", target.Key()).Msg("Failed to finish capture")
			writeErr(w, err)
			return
		}
		middleware.WriteJSON(w, http.StatusAccepted, job)
	case "cancel":
		if err := h.voice.CancelCapture(target); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		middleware.WriteError(w, http.StatusNotFound, "unknown capture action")
	}
}

// Status handles GET /api/voice/status
func (h *VoiceHandler) Status(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.voice.View())
}
