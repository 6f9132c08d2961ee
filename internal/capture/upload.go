package capture

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// MaxUploadBytes bounds an uploaded clip; Gemini accepts inline audio up to 20 MB per request.
const MaxUploadBytes = 20 << 20

var (
	ErrUnsupportedMedia = errors.New("capture: body is not audio")
	ErrClipTooLarge     = errors.New("capture: clip too large")
)

// ClipFromUpload reads a clip recorded elsewhere, e.g. by a browser, from an upload body.
func ClipFromUpload(r io.Reader, contentType string, limit int64) (Clip, error) {
	if limit <= 0 {
		limit = MaxUploadBytes
	}
	mime := strings.TrimSpace(contentType)
	if !strings.HasPrefix(BaseMIMEType(mime), "audio/") {
		return Clip{}, fmt.Errorf("%w: %q", ErrUnsupportedMedia, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return Clip{}, fmt.Errorf("capture: read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return Clip{}, ErrClipTooLarge
	}
	if len(data) == 0 {
		return Clip{}, ErrEmptyClip
	}
	return Clip{Data: data, MIMEType: canonicalMIME(mime)}, nil
}
