// Package config provides configuration loading and validation for the CLI and server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonathan/bom-generator/internal/archive"
	"github.com/jonathan/bom-generator/internal/llm"
	"github.com/jonathan/bom-generator/internal/logging"
	"github.com/jonathan/bom-generator/internal/server/ratelimit"
	"github.com/jonathan/bom-generator/internal/storage"
)

// Defaults
const (
	DefaultCallTimeout       = 120 * time.Second
	DefaultFanoutConcurrency = 1
	DefaultPort              = 8080
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
	MaxFanoutConcurrency     = 25
)

// Config represents the configuration that can be loaded from a JSON or YAML
// file. Missing values use defaults or are provided by env vars and CLI flags.
type Config struct {
	// Backend
	APIKey          string  `json:"api_key,omitempty" yaml:"api_key,omitempty"`                     // Gemini API key
	Provider        string  `json:"provider,omitempty" yaml:"provider,omitempty"`                   // Completion provider
	Model           string  `json:"model,omitempty" yaml:"model,omitempty"`                         // Model name
	MaxOutputTokens int     `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty"` // Output token cap per call
	Temperature     float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`             // Sampling temperature

	// Pipeline
	CallTimeout       Duration `json:"call_timeout,omitempty" yaml:"call_timeout,omitempty"`             // Bound on each backend call
	FanoutConcurrency int      `json:"fanout_concurrency,omitempty" yaml:"fanout_concurrency,omitempty"` // Concurrent certificate calls
	Output            string   `json:"output,omitempty" yaml:"output,omitempty"`                         // Archive output path

	// Persistence
	DatabaseURL string         `json:"database_url,omitempty" yaml:"database_url,omitempty"` // PostgreSQL connection URL
	Storage     storage.Config `json:"s3,omitempty" yaml:"s3,omitempty"`                     // Archive upload target

	// Observability
	LogLevel  string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty" yaml:"log_format,omitempty"`

	// Server
	Port      int             `json:"port,omitempty" yaml:"port,omitempty"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// RateLimitConfig bounds requests per client address in the server.
type RateLimitConfig struct {
	Disabled bool     `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Limit    int      `json:"limit,omitempty" yaml:"limit,omitempty"`   // Requests per window outside the generation endpoints
	Window   Duration `json:"window,omitempty" yaml:"window,omitempty"` // Refill window for Limit
	Allow    []string `json:"allow,omitempty" yaml:"allow,omitempty"`   // Addresses never limited
	Deny     []string `json:"deny,omitempty" yaml:"deny,omitempty"`     // Addresses always refused
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Provider:          string(llm.ProviderGemini),
		Model:             llm.DefaultGeminiConfig().Model,
		MaxOutputTokens:   llm.DefaultMaxOutputTokens,
		Temperature:       llm.DefaultGeminiConfig().Temperature,
		CallTimeout:       Duration(DefaultCallTimeout),
		FanoutConcurrency: DefaultFanoutConcurrency,
		Output:            archive.DefaultFilename,
		LogLevel:          DefaultLogLevel,
		LogFormat:         DefaultLogFormat,
		Port:              DefaultPort,
		RateLimit: RateLimitConfig{
			Limit:  ratelimit.DefaultLimit,
			Window: Duration(ratelimit.DefaultWindow),
		},
	}
}

// Load builds the effective configuration: defaults, then the file at path
// (if any), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg.MergeWithDefaults(cfg)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads configuration from a JSON or YAML file, chosen by extension.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	return &cfg, nil
}

// ApplyEnv overrides fields from environment variables looked up with lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("GEMINI_API_KEY", &c.APIKey)
	str("DATABASE_URL", &c.DatabaseURL)
	str("BOM_PROVIDER", &c.Provider)
	str("BOM_MODEL", &c.Model)
	str("BOM_OUTPUT", &c.Output)
	str("BOM_LOG_LEVEL", &c.LogLevel)
	str("BOM_LOG_FORMAT", &c.LogFormat)
	str("BOM_S3_BUCKET", &c.Storage.Bucket)
	str("BOM_S3_PREFIX", &c.Storage.Prefix)
	str("BOM_S3_REGION", &c.Storage.Region)
	str("BOM_S3_ENDPOINT", &c.Storage.Endpoint)
	str("AWS_ACCESS_KEY_ID", &c.Storage.AccessKeyID)
	str("AWS_SECRET_ACCESS_KEY", &c.Storage.SecretAccessKey)

	if v, ok := lookup("BOM_FANOUT_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config error: BOM_FANOUT_CONCURRENCY: %w", err)
		}
		c.FanoutConcurrency = n
	}
	if v, ok := lookup("BOM_PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config error: BOM_PORT: %w", err)
		}
		c.Port = n
	}
	if v, ok := lookup("BOM_CALL_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config error: BOM_CALL_TIMEOUT: %w", err)
		}
		c.CallTimeout = Duration(d)
	}

	if v, ok := lookup("BOM_RATE_LIMIT_DISABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config error: BOM_RATE_LIMIT_DISABLED: %w", err)
		}
		c.RateLimit.Disabled = b
	}
	if v, ok := lookup("BOM_RATE_LIMIT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config error: BOM_RATE_LIMIT: %w", err)
		}
		c.RateLimit.Limit = n
	}
	if v, ok := lookup("BOM_RATE_LIMIT_WINDOW"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config error: BOM_RATE_LIMIT_WINDOW: %w", err)
		}
		c.RateLimit.Window = Duration(d)
	}
	if v, ok := lookup("BOM_RATE_LIMIT_ALLOW"); ok && v != "" {
		c.RateLimit.Allow = strings.Split(v, ",")
	}
	if v, ok := lookup("BOM_RATE_LIMIT_DENY"); ok && v != "" {
		c.RateLimit.Deny = strings.Split(v, ",")
	}
	return nil
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check the API key since commands that never call the
// backend do not need one.
func (c *Config) Validate() error {
	if c.Provider != "" && c.Provider != string(llm.ProviderGemini) {
		return fmt.Errorf("config error: unsupported provider %q", c.Provider)
	}
	if c.MaxOutputTokens < 0 {
		return fmt.Errorf("config error: 'max_output_tokens' must be non-negative")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("config error: 'temperature' must be between 0 and 2")
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("config error: 'call_timeout' must be non-negative")
	}
	if c.FanoutConcurrency < 0 || c.FanoutConcurrency > MaxFanoutConcurrency {
		return fmt.Errorf("config error: 'fanout_concurrency' must be between 1 and %d", MaxFanoutConcurrency)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 1 and 65535")
	}
	if c.RateLimit.Limit < 0 || c.RateLimit.Window < 0 {
		return fmt.Errorf("config error: 'rate_limit' limit and window must be non-negative")
	}
	switch c.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("config error: 'log_format' must be \"json\" or \"console\"")
	}
	if c.Storage.AccessKeyID != "" && c.Storage.SecretAccessKey == "" {
		return fmt.Errorf("config error: 's3.secret_access_key' is required with 's3.access_key_id'")
	}
	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.Provider == "" {
		result.Provider = defaults.Provider
	}
	if result.Model == "" {
		result.Model = defaults.Model
	}
	if result.Output == "" {
		result.Output = defaults.Output
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.LogLevel == "" {
		result.LogLevel = defaults.LogLevel
	}
	if result.LogFormat == "" {
		result.LogFormat = defaults.LogFormat
	}
	if result.Storage == (storage.Config{}) {
		result.Storage = defaults.Storage
	}

	// Numeric fields: use default if zero
	if result.MaxOutputTokens == 0 {
		result.MaxOutputTokens = defaults.MaxOutputTokens
	}
	if result.Temperature == 0 {
		result.Temperature = defaults.Temperature
	}
	if result.CallTimeout == 0 {
		result.CallTimeout = defaults.CallTimeout
	}
	if result.FanoutConcurrency == 0 {
		result.FanoutConcurrency = defaults.FanoutConcurrency
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.RateLimit.Limit == 0 {
		result.RateLimit.Limit = defaults.RateLimit.Limit
	}
	if result.RateLimit.Window == 0 {
		result.RateLimit.Window = defaults.RateLimit.Window
	}

	return result
}

// LLMConfig returns the backend configuration.
func (c *Config) LLMConfig() *llm.Config {
	return &llm.Config{
		Provider:        llm.Provider(c.Provider),
		Model:           c.Model,
		MaxOutputTokens: c.MaxOutputTokens,
		Temperature:     c.Temperature,
	}
}

// RateLimiterConfig returns the server rate limiter configuration.
func (c *Config) RateLimiterConfig() *ratelimit.Config {
	if c.RateLimit.Disabled {
		return &ratelimit.Config{Enabled: false}
	}
	return ratelimit.NewConfig(c.RateLimit.Limit, c.RateLimit.Window.Std(), c.RateLimit.Allow, c.RateLimit.Deny)
}

// LoggingConfig returns the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: c.LogFormat}
}

// Duration is a time.Duration written as a Go duration string ("90s") in
// config files. Bare numbers are read as seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case int:
		*d = Duration(time.Duration(v) * time.Second)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}
