package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/bom-generator/internal/llm"
	"github.com/jonathan/bom-generator/internal/server/ratelimit"
	"github.com/jonathan/bom-generator/internal/storage"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"model": "gemini-2.5-pro",
		"max_output_tokens": 8000,
		"call_timeout": "45s",
		"fanout_concurrency": 4,
		"output": "bundle.zip",
		"s3": {"bucket": "archives", "prefix": "runs", "use_path_style": true}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "gemini-2.5-pro", cfg.Model)
	assert.Equal(t, 8000, cfg.MaxOutputTokens)
	assert.Equal(t, 45*time.Second, cfg.CallTimeout.Std())
	assert.Equal(t, 4, cfg.FanoutConcurrency)
	assert.Equal(t, "bundle.zip", cfg.Output)
	assert.Equal(t, storage.Config{Bucket: "archives", Prefix: "runs", UsePathStyle: true}, cfg.Storage)
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
model: gemini-2.5-flash
temperature: 0.2
call_timeout: 2m
fanout_concurrency: 3
log_format: json
port: 9090
s3:
  bucket: archives
  endpoint: http://localhost:9000
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-flash", cfg.Model)
	assert.InDelta(t, 0.2, cfg.Temperature, 0.0001)
	assert.Equal(t, 2*time.Minute, cfg.CallTimeout.Std())
	assert.Equal(t, 3, cfg.FanoutConcurrency)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "http://localhost:9000", cfg.Storage.Endpoint)
}

func TestLoadConfig_NumericTimeoutIsSeconds(t *testing.T) {
	path := writeFile(t, "config.json", `{"call_timeout": 30}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout.Std())
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{ invalid json }`)

	cfg, err := LoadConfig(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config JSON")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeFile(t, "config.yml", "call_timeout: [not, a, duration]\n")

	cfg, err := LoadConfig(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config YAML")
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := writeFile(t, "config.json", `{"call_timeout": "soon"}`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, string(llm.ProviderGemini), cfg.Provider)
	assert.Equal(t, llm.DefaultMaxOutputTokens, cfg.MaxOutputTokens)
	assert.Equal(t, DefaultCallTimeout, cfg.CallTimeout.Std())
	assert.Equal(t, 1, cfg.FanoutConcurrency)
	assert.Equal(t, "output_files.zip", cfg.Output)
	assert.NoError(t, cfg.Validate())
}

func TestMergeWithDefaults(t *testing.T) {
	fileCfg := Config{Model: "gemini-2.5-pro", FanoutConcurrency: 5}

	merged := fileCfg.MergeWithDefaults(Default())

	assert.Equal(t, "gemini-2.5-pro", merged.Model)
	assert.Equal(t, 5, merged.FanoutConcurrency)
	assert.Equal(t, llm.DefaultMaxOutputTokens, merged.MaxOutputTokens)
	assert.Equal(t, "output_files.zip", merged.Output)
	assert.Equal(t, DefaultPort, merged.Port)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"GEMINI_API_KEY":         "secret",
		"DATABASE_URL":           "postgres://localhost/bom",
		"BOM_MODEL":              "gemini-2.5-pro",
		"BOM_FANOUT_CONCURRENCY": "6",
		"BOM_CALL_TIMEOUT":       "30s",
		"BOM_PORT":               "9000",
		"BOM_S3_BUCKET":          "archives",
		"BOM_LOG_LEVEL":          "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, "postgres://localhost/bom", cfg.DatabaseURL)
	assert.Equal(t, "gemini-2.5-pro", cfg.Model)
	assert.Equal(t, 6, cfg.FanoutConcurrency)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout.Std())
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "archives", cfg.Storage.Bucket)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

func TestApplyEnv_InvalidNumbers(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"BOM_FANOUT_CONCURRENCY", "many"},
		{"BOM_PORT", "http"},
		{"BOM_CALL_TIMEOUT", "forever"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyEnv(envMap(map[string]string{tt.key: tt.value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, "config.json", `{"model": "from-file", "output": "file.zip"}`)
	t.Setenv("BOM_MODEL", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Model)
	assert.Equal(t, "file.zip", cfg.Output)
	assert.Equal(t, DefaultCallTimeout, cfg.CallTimeout.Std())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown provider", func(c *Config) { c.Provider = "openai" }, "unsupported provider"},
		{"negative tokens", func(c *Config) { c.MaxOutputTokens = -1 }, "max_output_tokens"},
		{"temperature too high", func(c *Config) { c.Temperature = 3 }, "temperature"},
		{"negative timeout", func(c *Config) { c.CallTimeout = Duration(-time.Second) }, "call_timeout"},
		{"concurrency too high", func(c *Config) { c.FanoutConcurrency = 100 }, "fanout_concurrency"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "port"},
		{"negative rate limit", func(c *Config) { c.RateLimit.Limit = -1 }, "rate_limit"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"key without secret", func(c *Config) { c.Storage.AccessKeyID = "AKIA" }, "secret_access_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestApplyEnv_RateLimit(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"BOM_RATE_LIMIT":        "50",
		"BOM_RATE_LIMIT_WINDOW": "10s",
		"BOM_RATE_LIMIT_ALLOW":  "10.0.0.1, 10.0.0.2",
		"BOM_RATE_LIMIT_DENY":   "192.0.2.9",
	}))
	require.NoError(t, err)

	rl := cfg.RateLimiterConfig()
	assert.True(t, rl.Enabled)
	assert.Equal(t, 50, rl.DefaultLimit)
	assert.Equal(t, 10*time.Second, rl.DefaultWindow)
	assert.Equal(t, map[string]bool{"10.0.0.1": true, "10.0.0.2": true}, rl.Whitelist)
	assert.Equal(t, map[string]bool{"192.0.2.9": true}, rl.Blacklist)
	assert.NotEmpty(t, rl.EndpointConfigs)
}

func TestRateLimiterConfig_Disabled(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(envMap(map[string]string{"BOM_RATE_LIMIT_DISABLED": "true"})))

	assert.False(t, cfg.RateLimiterConfig().Enabled)

	err := cfg.ApplyEnv(envMap(map[string]string{"BOM_RATE_LIMIT_DISABLED": "sometimes"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOM_RATE_LIMIT_DISABLED")
}

func TestRateLimiterConfig_FromYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", "rate_limit:\n  limit: 20\n  deny: [\"192.0.2.1\"]\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	rl := cfg.RateLimiterConfig()
	assert.Equal(t, 20, rl.DefaultLimit)
	assert.Equal(t, ratelimit.DefaultWindow, rl.DefaultWindow)
	assert.True(t, rl.Blacklist["192.0.2.1"])
}

func TestLLMConfig(t *testing.T) {
	cfg := Default()
	cfg.Model = "gemini-2.5-pro"

	llmCfg := cfg.LLMConfig()

	assert.Equal(t, llm.ProviderGemini, llmCfg.Provider)
	assert.Equal(t, "gemini-2.5-pro", llmCfg.Model)
	assert.Equal(t, llm.DefaultMaxOutputTokens, llmCfg.MaxOutputTokens)
}

func TestDuration_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))
}
