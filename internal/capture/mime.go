package capture

import "strings"

// DefaultMIMEType is used when none of the preferred encodings is available.
const DefaultMIMEType = "audio/ogg"

// PreferredMIMETypes lists encodings from most to least preferred.
var PreferredMIMETypes = []string{
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/mp4",
	"audio/ogg",
}

// encoderArgs maps a container/codec to the ffmpeg output arguments producing it on stdout.
var encoderArgs = map[string][]string{
	"audio/webm;codecs=opus": {"-c:a", "libopus", "-f", "webm"},
	"audio/webm":             {"-c:a", "libopus", "-f", "webm"},
	// mp4 needs a fragmented layout to be written to a pipe.
	"audio/mp4": {"-c:a", "aac", "-movflags", "frag_keyframe+empty_moov", "-f", "mp4"},
	"audio/ogg": {"-c:a", "libopus", "-f", "ogg"},
}

// SupportedMIMETypes returns the encodings the ffmpeg recorder knows how to produce.
func SupportedMIMETypes() []string {
	out := make([]string, 0, len(PreferredMIMETypes))
	for _, m := range PreferredMIMETypes {
		if _, ok := encoderArgs[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// NegotiateMIMEType returns the first entry of preferences present in supported,
// or DefaultMIMEType when nothing matches. Comparison ignores case and spaces.
func NegotiateMIMEType(preferences, supported []string) string {
	have := make(map[string]bool, len(supported))
	for _, s := range supported {
		have[canonicalMIME(s)] = true
	}
	for _, p := range preferences {
		if have[canonicalMIME(p)] {
			return canonicalMIME(p)
		}
	}
	return DefaultMIMEType
}

// BaseMIMEType strips codec parameters: "audio/webm;codecs=opus" becomes "audio/webm".
func BaseMIMEType(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}

func canonicalMIME(m string) string {
	return strings.ToLower(strings.ReplaceAll(m, " ", ""))
}
