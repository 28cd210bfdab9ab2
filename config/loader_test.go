// 配置加载器与校验测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatgateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.HTTPPort)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8888
  read_timeout: 60s
  cors_allowed_origins:
    - https://chat.example.com
  api_keys: ["k1", "k2"]
  api_key_optional: false

ollama:
  base_url: http://ollama:11434
  default_model: mistral

rate_limit:
  rps: 0.5
  burst: 2

cache:
  enabled: true
  addr: redis:6379
  models_ttl: 1m

log:
  level: debug
  format: console
  file:
    path: /var/log/chatgateway.log
    max_size_mb: 10
`)

	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.False(t, cfg.Server.APIKeyOptional)

	assert.Equal(t, "http://ollama:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, "mistral", cfg.Ollama.DefaultModel)
	assert.Equal(t, 5*time.Second, cfg.Ollama.ConnectTimeout, "unset keys keep defaults")

	assert.Equal(t, 0.5, cfg.RateLimit.RPS)
	assert.Equal(t, 2, cfg.RateLimit.Burst)
	assert.Equal(t, 16, cfg.RateLimit.Shards)

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, time.Minute, cfg.Cache.ModelsTTL)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/var/log/chatgateway.log", cfg.Log.File.Path)
	assert.Equal(t, 10, cfg.Log.File.MaxSizeMB)
	assert.Equal(t, 5, cfg.Log.File.MaxBackups)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed")
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config from file")
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8888
rate_limit:
  rps: 1
`)
	t.Setenv("CHATGATEWAY_SERVER_HTTP_PORT", "7777")
	t.Setenv("CHATGATEWAY_SERVER_API_KEYS", "a, b ,,c")
	t.Setenv("CHATGATEWAY_SERVER_API_KEY_OPTIONAL", "false")
	t.Setenv("CHATGATEWAY_RATE_LIMIT_RPS", "2.5")
	t.Setenv("CHATGATEWAY_SESSION_MAX_TURN_DURATION", "90s")
	t.Setenv("CHATGATEWAY_LOG_FILE_COMPRESS", "false")
	t.Setenv("CHATGATEWAY_TELEMETRY_SAMPLE_RATE", "1")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Server.APIKeys)
	assert.False(t, cfg.Server.APIKeyOptional)
	assert.Equal(t, 2.5, cfg.RateLimit.RPS)
	assert.Equal(t, 90*time.Second, cfg.Session.MaxTurnDuration)
	assert.False(t, cfg.Log.File.Compress)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
}

func TestLoader_CustomPrefix(t *testing.T) {
	t.Setenv("GW_OLLAMA_DEFAULT_MODEL", "phi3")

	cfg, err := NewLoader().WithEnvPrefix("GW").Load()
	require.NoError(t, err)
	assert.Equal(t, "phi3", cfg.Ollama.DefaultModel)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"CHATGATEWAY_SERVER_HTTP_PORT", "eighty"},
		{"CHATGATEWAY_RATE_LIMIT_RPS", "fast"},
		{"CHATGATEWAY_CACHE_ENABLED", "maybe"},
		{"CHATGATEWAY_SESSION_MAX_TURN_DURATION", "5 minutes"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := NewLoader().Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoader_ValidatorFailure(t *testing.T) {
	t.Setenv("CHATGATEWAY_RATE_LIMIT_BURST", "0")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestMustLoad(t *testing.T) {
	assert.NotPanics(t, func() { MustLoad("") })

	path := writeConfig(t, "log:\n  level: loud\n")
	assert.Panics(t, func() { MustLoad(path) })
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "port zero", mutate: func(c *Config) { c.Server.HTTPPort = 0 }, wantErr: "HTTPPort"},
		{name: "port too large", mutate: func(c *Config) { c.Server.MetricsPort = 70000 }, wantErr: "MetricsPort"},
		{name: "rps zero", mutate: func(c *Config) { c.RateLimit.RPS = 0 }, wantErr: "RPS"},
		{name: "rps negative", mutate: func(c *Config) { c.RateLimit.RPS = -1 }, wantErr: "RPS"},
		{name: "burst zero", mutate: func(c *Config) { c.RateLimit.Burst = 0 }, wantErr: "Burst"},
		{name: "window zero", mutate: func(c *Config) { c.Metrics.WindowSize = 0 }, wantErr: "WindowSize"},
		{name: "bad base url", mutate: func(c *Config) { c.Ollama.BaseURL = "not a url" }, wantErr: "BaseURL"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "verbose" }, wantErr: "Level"},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "Format"},
		{
			name:    "keys required when mandatory",
			mutate:  func(c *Config) { c.Server.APIKeyOptional = false },
			wantErr: "at least one api key is required",
		},
		{
			name: "keys present when mandatory",
			mutate: func(c *Config) {
				c.Server.APIKeyOptional = false
				c.Server.APIKeys = []string{"secret"}
			},
		},
		{name: "cache enabled without addr", mutate: func(c *Config) { c.Cache.Enabled = true; c.Cache.Addr = "" }, wantErr: "Addr"},
		{name: "sample rate above one", mutate: func(c *Config) { c.Telemetry.SampleRate = 1.5 }, wantErr: "SampleRate"},
		{name: "turn duration zero", mutate: func(c *Config) { c.Session.MaxTurnDuration = 0 }, wantErr: "MaxTurnDuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
