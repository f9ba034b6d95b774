package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultBackendURL        = "http://127.0.0.1:4096"
	DefaultModel             = "anthropic/claude-sonnet-4-5"
	DefaultAllowlistFile     = ".env"
	DefaultAllowlistKey      = "TELEGRAM_ALLOWED_USERS"
	DefaultScratchDir        = "data/scratch"
	DefaultUploadDir         = "data/uploads"
	DefaultFFmpegPath        = "ffmpeg"
	DefaultTranscribeModel   = "whisper-1"
	DefaultPromptsFile       = "prompts.yaml"
	DefaultFrameInterval     = 2
	DefaultMaxFrames         = 5
	DefaultMaxDownloadBytes  = 50 * 1024 * 1024
	DefaultMaxVideoBytes     = 20 * 1024 * 1024
	DefaultRetentionSchedule = "@every 1h"

	BootstrapModeReload  = "reload"
	BootstrapModeRestart = "restart"
)

type Config struct {
	Log           LogConfig           `toml:"log"`
	Server        ServerConfig        `toml:"server"`
	Telegram      TelegramConfig      `toml:"telegram"`
	Backend       BackendConfig       `toml:"backend"`
	Auth          AuthConfig          `toml:"auth"`
	Media         MediaConfig         `toml:"media"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Progress      ProgressConfig      `toml:"progress"`
	Sync          SyncConfig          `toml:"sync"`
	Prompts       PromptsConfig       `toml:"prompts"`
}

type LogConfig struct {
	Level      string `toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format     string `toml:"format" validate:"omitempty,oneof=text json"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type TelegramConfig struct {
	BotToken    string `toml:"bot_token" validate:"required"`
	PollTimeout int    `toml:"poll_timeout" validate:"gte=0"`
}

type BackendConfig struct {
	BaseURL        string `toml:"base_url" validate:"required,url"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	Directory      string `toml:"directory"`
	DefaultModel   string `toml:"default_model" validate:"required,contains=/"`
	RequestTimeout string `toml:"request_timeout" validate:"omitempty,duration"`
	PromptTimeout  string `toml:"prompt_timeout" validate:"omitempty,duration"`
	EventReconnect string `toml:"event_reconnect" validate:"omitempty,duration"`
}

// RequestTimeoutDuration bounds short RPCs (session create, list calls).
func (c BackendConfig) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(c.RequestTimeout, 30*time.Second)
}

// PromptTimeoutDuration is the ceiling for one prompt-and-wait call.
func (c BackendConfig) PromptTimeoutDuration() time.Duration {
	return parseDurationOr(c.PromptTimeout, 30*time.Minute)
}

func (c BackendConfig) EventReconnectDuration() time.Duration {
	return parseDurationOr(c.EventReconnect, 5*time.Second)
}

type AuthConfig struct {
	AllowlistFile string `toml:"allowlist_file" validate:"required"`
	AllowlistKey  string `toml:"allowlist_key" validate:"required"`
	BootstrapMode string `toml:"bootstrap_mode" validate:"oneof=reload restart"`
	Watch         bool   `toml:"watch"`
}

type MediaConfig struct {
	ScratchDir        string `toml:"scratch_dir" validate:"required"`
	UploadDir         string `toml:"upload_dir" validate:"required"`
	FFmpegPath        string `toml:"ffmpeg_path" validate:"required"`
	FrameInterval     int    `toml:"frame_interval" validate:"gt=0"`
	MaxFrames         int    `toml:"max_frames" validate:"gt=0"`
	ExtractTimeout    string `toml:"extract_timeout" validate:"omitempty,duration"`
	MaxDownloadBytes  int64  `toml:"max_download_bytes" validate:"gt=0"`
	MaxVideoBytes     int64  `toml:"max_video_bytes" validate:"gt=0"`
	UploadRetention   string `toml:"upload_retention" validate:"omitempty,duration"`
	RetentionSchedule string `toml:"retention_schedule"`
}

func (c MediaConfig) ExtractTimeoutDuration() time.Duration {
	return parseDurationOr(c.ExtractTimeout, 60*time.Second)
}

// UploadRetentionDuration returns 0 when retention is disabled.
func (c MediaConfig) UploadRetentionDuration() time.Duration {
	return parseDurationOr(c.UploadRetention, 0)
}

type TranscriptionConfig struct {
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url" validate:"omitempty,url"`
	Model    string `toml:"model"`
	Language string `toml:"language"`
}

type ProgressConfig struct {
	EditInterval   string `toml:"edit_interval" validate:"omitempty,duration"`
	Heartbeat      string `toml:"heartbeat" validate:"omitempty,duration"`
	TypingInterval string `toml:"typing_interval" validate:"omitempty,duration"`
}

func (c ProgressConfig) EditIntervalDuration() time.Duration {
	return parseDurationOr(c.EditInterval, 2*time.Second)
}

func (c ProgressConfig) HeartbeatDuration() time.Duration {
	return parseDurationOr(c.Heartbeat, 10*time.Second)
}

func (c ProgressConfig) TypingIntervalDuration() time.Duration {
	return parseDurationOr(c.TypingInterval, 4*time.Second)
}

type SyncConfig struct {
	Enabled      bool   `toml:"enabled"`
	ChatID       int64  `toml:"chat_id" validate:"required_if=Enabled true"`
	DefaultTitle string `toml:"default_title"`
	// Secret signs tokens for the sync HTTP surface. Empty leaves it open.
	Secret string `toml:"secret"`
}

type PromptsConfig struct {
	File string `toml:"file"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Telegram: TelegramConfig{
			PollTimeout: 30,
		},
		Backend: BackendConfig{
			BaseURL:        DefaultBackendURL,
			DefaultModel:   DefaultModel,
			RequestTimeout: "30s",
			PromptTimeout:  "30m",
			EventReconnect: "5s",
		},
		Auth: AuthConfig{
			AllowlistFile: DefaultAllowlistFile,
			AllowlistKey:  DefaultAllowlistKey,
			BootstrapMode: BootstrapModeReload,
			Watch:         true,
		},
		Media: MediaConfig{
			ScratchDir:        DefaultScratchDir,
			UploadDir:         DefaultUploadDir,
			FFmpegPath:        DefaultFFmpegPath,
			FrameInterval:     DefaultFrameInterval,
			MaxFrames:         DefaultMaxFrames,
			ExtractTimeout:    "60s",
			MaxDownloadBytes:  DefaultMaxDownloadBytes,
			MaxVideoBytes:     DefaultMaxVideoBytes,
			UploadRetention:   "168h",
			RetentionSchedule: DefaultRetentionSchedule,
		},
		Transcription: TranscriptionConfig{
			Model: DefaultTranscribeModel,
		},
		Progress: ProgressConfig{
			EditInterval:   "2s",
			Heartbeat:      "10s",
			TypingInterval: "4s",
		},
		Sync: SyncConfig{
			DefaultTitle: "New session",
		},
		Prompts: PromptsConfig{
			File: DefaultPromptsFile,
		},
	}
}

// Load reads the TOML file at path over the defaults, then fills empty secrets
// from the process environment and the allow-list key-value file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	values, err := ReadEnvFile(cfg.Auth.AllowlistFile)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", cfg.Auth.AllowlistFile, err)
	}
	cfg.ApplyEnv(values)
	return cfg, nil
}

// ApplyEnv fills secrets left empty in the TOML file. Process environment wins
// over fileValues.
func (c *Config) ApplyEnv(fileValues map[string]string) {
	lookup := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(fileValues[key])
	}
	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = lookup(key)
		}
	}
	fill(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	fill(&c.Transcription.APIKey, "OPENAI_API_KEY")
	fill(&c.Backend.Username, "OPENCODE_SERVER_USERNAME")
	fill(&c.Backend.Password, "OPENCODE_SERVER_PASSWORD")
	fill(&c.Backend.BaseURL, "OPENCODE_URL")
	fill(&c.Sync.Secret, "RELAY_SYNC_SECRET")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints declared on the config structs.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
