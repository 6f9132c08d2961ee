package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Database.Path = filepath.Join(t.TempDir(), "s1a.db")
	cfg.LLM.Model = "gemini-2.5-flash"
	cfg.LLM.APIKeyEnv = "S1A_TEST_UNSET_KEY"
	cfg.Voice.Workers = 1
	cfg.Voice.StatusTTL = time.Second
	cfg.Timezone = "Asia/Ho_Chi_Minh"
	return cfg
}

func withArgs(t *testing.T, args ...string) {
	t.Helper()
	saved := os.Args
	os.Args = append([]string{"cli"}, args...)
	exitCode = 0
	t.Cleanup(func() {
		os.Args = saved
		exitCode = 0
	})
}

func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.ogg")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o600))
	return path
}

func TestRunDictate_FailureSetsExitCode(t *testing.T) {
	withArgs(t, "smart-add", "-file", writeClip(t))

	runDictate(testConfig(t), zerolog.Nop(), "smart-add")
	assert.Equal(t, 1, exitCode)
}

func TestRunTranscribe_NothingRecognizedSetsExitCode(t *testing.T) {
	withArgs(t, "transcribe", "-file", writeClip(t))

	runTranscribe(testConfig(t), zerolog.Nop())
	assert.Equal(t, 1, exitCode)
}

func TestRunUpdate_MissingRowSetsExitCode(t *testing.T) {
	withArgs(t, "update", "-id", "missing", "-field", "amount", "-value", "5")

	runUpdate(testConfig(t), zerolog.Nop())
	assert.Equal(t, 1, exitCode)
}

func TestMimeFromExt(t *testing.T) {
	tests := map[string]string{
		"a.webm": "audio/webm",
		"a.M4A":  "audio/mp4",
		"a.wav":  "audio/wav",
		"a.mp3":  "audio/mpeg",
		"a.ogg":  "audio/ogg",
		"a.bin":  "audio/ogg",
	}
	for path, want := range tests {
		assert.Equal(t, want, mimeFromExt(path), path)
	}
}
