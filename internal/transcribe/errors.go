package transcribe

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Kind classifies a transcription failure.
type Kind int

const (
	// KindNetwork covers transport failures and non-credential API errors.
	KindNetwork Kind = iota + 1
	// KindCredentialMissing means no usable API key is configured.
	KindCredentialMissing
	// KindEmpty means the model answered with no text.
	KindEmpty
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindCredentialMissing:
		return "credential_missing"
	case KindEmpty:
		return "empty"
	}
	return "unknown"
}

// ErrNoCredential is wrapped by errors raised before any request when no key is configured.
var ErrNoCredential = errors.New("gemini API key is not configured")

// Error is returned by every Client operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a transcription error, or 0 when err is not one.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// IsCredentialMissing reports whether err needs configuration rather than a retry.
func IsCredentialMissing(err error) bool {
	return KindOf(err) == KindCredentialMissing
}

// classify turns an error from the API call into a typed Error.
func classify(op string, err error) *Error {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return &Error{Kind: KindNetwork, Op: op, Err: err}
	}

	if isCredentialError(apiErr) {
		return &Error{Kind: KindCredentialMissing, Op: op, Err: err}
	}
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func isCredentialError(e genai.APIError) bool {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return true
	}
	// An invalid key is reported as 400 INVALID_ARGUMENT.
	return e.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Message), "api key")
}
