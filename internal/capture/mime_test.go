package capture

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiateMIMEType(t *testing.T) {
	tests := []struct {
		name      string
		supported []string
		want      string
	}{
		{"all supported", SupportedMIMETypes(), "audio/webm;codecs=opus"},
		{"no opus webm", []string{"audio/ogg", "audio/mp4"}, "audio/mp4"},
		{"case and spaces", []string{"Audio/WebM; codecs=opus"}, "audio/webm;codecs=opus"},
		{"nothing preferred", []string{"audio/wav"}, DefaultMIMEType},
		{"nothing at all", nil, DefaultMIMEType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NegotiateMIMEType(PreferredMIMETypes, tt.supported))
		})
	}
}

func TestBaseMIMEType(t *testing.T) {
	assert.Equal(t, "audio/webm", BaseMIMEType("audio/webm;codecs=opus"))
	assert.Equal(t, "audio/ogg", BaseMIMEType(" Audio/Ogg "))
}

func TestClipFromUpload(t *testing.T) {
	clip, err := ClipFromUpload(strings.NewReader("OggS..."), "audio/ogg; codecs=opus", 0)
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg;codecs=opus", clip.MIMEType)
	assert.Equal(t, []byte("OggS..."), clip.Data)

	_, err = ClipFromUpload(strings.NewReader("{}"), "application/json", 0)
	assert.ErrorIs(t, err, ErrUnsupportedMedia)

	_, err = ClipFromUpload(strings.NewReader(""), "audio/webm", 0)
	assert.ErrorIs(t, err, ErrEmptyClip)

	_, err = ClipFromUpload(strings.NewReader("0123456789"), "audio/webm", 4)
	assert.ErrorIs(t, err, ErrClipTooLarge)
}
