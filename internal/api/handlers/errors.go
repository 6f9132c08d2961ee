package handlers

import (
	"errors"
	"net/http"

	"github.com/dvloznov/s1a-ledger/internal/api/middleware"
	"github.com/dvloznov/s1a-ledger/internal/capture"
	"github.com/dvloznov/s1a-ledger/internal/domain"
	"github.com/dvloznov/s1a-ledger/internal/session"
	"github.com/dvloznov/s1a-ledger/internal/transcribe"
	"github.com/dvloznov/s1a-ledger/internal/voice"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrImportFormat):
		return http.StatusBadRequest
	case errors.Is(err, voice.ErrUnknownTarget):
		return http.StatusNotFound
	case errors.Is(err, voice.ErrTargetBusy),
		errors.Is(err, voice.ErrNotCapturing),
		errors.Is(err, voice.ErrStaleResult),
		errors.Is(err, capture.ErrDeviceBusy),
		errors.Is(err, capture.ErrNotCapturing):
		return http.StatusConflict
	case errors.Is(err, capture.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, capture.ErrClipTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, capture.ErrEmptyClip),
		transcribe.KindOf(err) == transcribe.KindEmpty:
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrDeviceUnavailable),
		errors.Is(err, session.ErrNotOpen),
		transcribe.IsCredentialMissing(err):
		return http.StatusServiceUnavailable
	case transcribe.KindOf(err) != 0:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	middleware.WriteError(w, status, msg)
}
