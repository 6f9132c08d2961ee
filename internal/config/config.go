package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Persist  PersistConfig  `mapstructure:"persist"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Voice    VoiceConfig    `mapstructure:"voice"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	BigQuery BigQueryConfig `mapstructure:"bigquery"`
	Notion   NotionConfig   `mapstructure:"notion"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Timezone string         `mapstructure:"timezone"`
	LogLevel string         `mapstructure:"log_level"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// PersistConfig controls how ledger snapshots reach the database.
type PersistConfig struct {
	// Debounce coalesces rapid edits into one write. Zero writes every change immediately.
	Debounce time.Duration `mapstructure:"debounce"`
}

// LLMConfig holds Gemini settings.
type LLMConfig struct {
	APIKeyEnv string `mapstructure:"api_key_env"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
}

// CaptureConfig describes the local microphone as ffmpeg sees it.
type CaptureConfig struct {
	FFmpeg      string        `mapstructure:"ffmpeg"`
	Format      string        `mapstructure:"format"`
	Device      string        `mapstructure:"device"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

// VoiceConfig holds voice coordinator settings.
type VoiceConfig struct {
	Workers   int           `mapstructure:"workers"`
	StatusTTL time.Duration `mapstructure:"status_ttl"`
}

type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

type BigQueryConfig struct {
	Project string `mapstructure:"project"`
	Dataset string `mapstructure:"dataset"`
}

type NotionConfig struct {
	Token      string `mapstructure:"token"`
	DatabaseID string `mapstructure:"database_id"`
}

type HTTPConfig struct {
	Port string `mapstructure:"port"`
}

// Load reads configuration from .env, an optional TOML file and the environment.
// Env var overrides use prefix S1A_, e.g. S1A_DATABASE_PATH or S1A_PERSIST_DEBOUNCE=0s.
func Load() (Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("S1A_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "s1a-ledger"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("S1A")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	format, device := defaultCaptureInput()

	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "s1a-ledger", "s1a.db"))
	v.SetDefault("persist.debounce", "500ms")
	v.SetDefault("llm.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("capture.ffmpeg", "ffmpeg")
	v.SetDefault("capture.format", format)
	v.SetDefault("capture.device", device)
	v.SetDefault("capture.max_duration", "2m")
	v.SetDefault("voice.workers", 4)
	v.SetDefault("voice.status_ttl", "3s")
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("bigquery.project", "")
	v.SetDefault("bigquery.dataset", "s1a")
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")
	v.SetDefault("http.port", "8080")
	v.SetDefault("timezone", "Asia/Ho_Chi_Minh")
	v.SetDefault("log_level", "info")
}

// defaultCaptureInput picks the ffmpeg input format and device name of the platform microphone.
func defaultCaptureInput() (string, string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

// Validate rejects values that would make the service misbehave silently.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if c.Persist.Debounce < 0 {
		return fmt.Errorf("config: persist.debounce must not be negative")
	}
	if c.Voice.Workers < 1 {
		return fmt.Errorf("config: voice.workers must be at least 1")
	}
	if c.Voice.StatusTTL <= 0 {
		return fmt.Errorf("config: voice.status_ttl must be positive")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// APIKeyValue returns the Gemini key, preferring the explicit value over the named env var.
func (c Config) APIKeyValue() string {
	if c.LLM.APIKey != "" {
		return c.LLM.APIKey
	}
	if c.LLM.APIKeyEnv != "" {
		return os.Getenv(c.LLM.APIKeyEnv)
	}
	return ""
}

// Location returns the configured time zone used to resolve "today".
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
