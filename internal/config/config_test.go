package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultModel, cfg.Backend.DefaultModel)
	assert.Equal(t, BootstrapModeReload, cfg.Auth.BootstrapMode)
	assert.Equal(t, 60*time.Second, cfg.Media.ExtractTimeoutDuration())
	assert.Equal(t, 2*time.Second, cfg.Progress.EditIntervalDuration())
}

func TestLoad_DecodesTOMLAndEnvFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	envPath := filepath.Join(dir, "bot.env")
	require.NoError(t, os.WriteFile(envPath, []byte("RELAY_TEST_UNUSED=1\n"), 0o600))

	cfgPath := filepath.Join(dir, "config.toml")
	body := `
[server]
addr = ":9090"

[telegram]
bot_token = "123:abc"

[backend]
base_url = "http://backend:4096"
default_model = "openai/gpt-5"
prompt_timeout = "5m"

[auth]
allowlist_file = "` + filepath.ToSlash(envPath) + `"
bootstrap_mode = "restart"

[media]
max_frames = 3
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "123:abc", cfg.Telegram.BotToken)
	assert.Equal(t, "http://backend:4096", cfg.Backend.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.Backend.PromptTimeoutDuration())
	assert.Equal(t, BootstrapModeRestart, cfg.Auth.BootstrapMode)
	assert.Equal(t, 3, cfg.Media.MaxFrames)
	assert.Equal(t, DefaultFrameInterval, cfg.Media.FrameInterval)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_FillsOnlyEmptySecrets(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Telegram.BotToken = "from-toml"
	cfg.ApplyEnv(map[string]string{
		"TELEGRAM_BOT_TOKEN":       "from-file",
		"OPENCODE_SERVER_PASSWORD": "secret",
	})
	assert.Equal(t, "from-toml", cfg.Telegram.BotToken)
	assert.Equal(t, "secret", cfg.Backend.Password)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := Default()
	valid.Telegram.BotToken = "t"

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults with token", mutate: func(*Config) {}},
		{name: "missing token", mutate: func(c *Config) { c.Telegram.BotToken = "" }, wantErr: true},
		{name: "bad duration", mutate: func(c *Config) { c.Progress.EditInterval = "soon" }, wantErr: true},
		{name: "bad bootstrap mode", mutate: func(c *Config) { c.Auth.BootstrapMode = "exit" }, wantErr: true},
		{name: "model without provider", mutate: func(c *Config) { c.Backend.DefaultModel = "gpt" }, wantErr: true},
		{name: "sync enabled without chat", mutate: func(c *Config) { c.Sync.Enabled = true }, wantErr: true},
		{name: "sync enabled with chat", mutate: func(c *Config) { c.Sync.Enabled = true; c.Sync.ChatID = -100123 }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
