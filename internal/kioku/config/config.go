// Package config loads kioku's settings from a YAML file, .env files and
// the environment, in that order of increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/kioku/common/environment"
	"github.com/bdobrica/kioku/common/redact"
	"github.com/bdobrica/kioku/common/retry"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Memory backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// TokenizerHeuristic selects the character-ratio estimate instead of a BPE
// encoding.
const TokenizerHeuristic = "heuristic"

// Config is the full runtime configuration.
type Config struct {
	Provider       string        `yaml:"provider"`
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	Transform      string        `yaml:"transform"`
	MaxReplyTokens int           `yaml:"max_reply_tokens"`
	Timeout        time.Duration `yaml:"timeout"`
	Retry          retry.Config  `yaml:"retry"`

	Memory MemoryConfig `yaml:"memory"`
	OCR    OCRConfig    `yaml:"ocr"`
	JSON   JSONConfig   `yaml:"json"`
	Log    LogConfig    `yaml:"log"`
}

// MemoryConfig controls the conversation memory.
type MemoryConfig struct {
	// Backend is "file" (one JSON document) or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the JSON file or SQLite database.
	Path string `yaml:"path"`
	// Conversation names the thread inside a SQLite database.
	Conversation string `yaml:"conversation"`
	// MaxHistoryTokens is the compaction budget.
	MaxHistoryTokens int `yaml:"max_history_tokens"`
	// ContextTokenLimit is the model's context window; larger requests are
	// logged and left to the provider's transform.
	ContextTokenLimit int `yaml:"context_token_limit"`
	// Tokenizer is a tiktoken encoding name or "heuristic".
	Tokenizer string `yaml:"tokenizer"`
}

// OCRConfig configures image text extraction.
type OCRConfig struct {
	Lang string   `yaml:"lang"`
	Args []string `yaml:"args"`
}

// JSONConfig configures fenced JSON extraction from replies.
type JSONConfig struct {
	OutputDir      string `yaml:"output_dir"`
	UseTopKeyNames bool   `yaml:"use_top_key_names"`
	ForcedName     string `yaml:"forced_name"`
	Repair         bool   `yaml:"repair"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration: DeepSeek through OpenRouter
// with the middle-out transform and a 3000-token history budget.
func Default() Config {
	return Config{
		Provider:  ProviderOpenAI,
		BaseURL:   "https://openrouter.ai/api/v1",
		Model:     "deepseek/deepseek-chat-v3-0324:free",
		Transform: "middle-out",
		Timeout:   120 * time.Second,
		Retry:     retry.DefaultConfig,
		Memory: MemoryConfig{
			Backend:           BackendFile,
			Path:              "chat_memory.json",
			Conversation:      "default",
			MaxHistoryTokens:  3000,
			ContextTokenLimit: 163840,
			Tokenizer:         "cl100k_base",
		},
		JSON: JSONConfig{
			OutputDir:      ".",
			UseTopKeyNames: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Parse decodes a YAML document over the defaults. Unknown keys are
// rejected. The result is not validated.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration with Resolve and validates it.
func Load(path string, dotenv ...string) (Config, error) {
	cfg, err := Resolve(path, dotenv...)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Resolve layers the configuration sources: defaults, then the YAML file at
// path (if path is non-empty), then variables from the dotenv files, then
// the process environment. The result is not validated, which lets
// read-only commands run without an API key.
func Resolve(path string, dotenv ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, err
		}
	}

	if _, err := environment.LoadDotEnv(dotenv...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from KIOKU_* variables. The API key is taken
// from KIOKU_API_KEY, then the provider's conventional variable.
func (c *Config) ApplyEnv() {
	c.Provider = environment.StringOr("KIOKU_PROVIDER", c.Provider)

	keyVars := []string{"KIOKU_API_KEY", "OPENROUTER_API_KEY", "OPENAI_API_KEY"}
	if c.Provider == ProviderAnthropic {
		keyVars = []string{"KIOKU_API_KEY", "ANTHROPIC_API_KEY"}
	}
	if v, _ := environment.FirstOf(keyVars...); v != "" {
		c.APIKey = v
	}

	c.BaseURL = environment.StringOr("KIOKU_BASE_URL", c.BaseURL)
	c.Model = environment.StringOr("KIOKU_MODEL", c.Model)
	c.Transform = environment.StringOr("KIOKU_TRANSFORM", c.Transform)
	c.MaxReplyTokens = environment.IntOr("KIOKU_MAX_REPLY_TOKENS", c.MaxReplyTokens)
	c.Timeout = environment.DurationOr("KIOKU_TIMEOUT", c.Timeout)
	c.Retry.MaxAttempts = environment.IntOr("KIOKU_RETRY_ATTEMPTS", c.Retry.MaxAttempts)

	c.Memory.Backend = environment.StringOr("KIOKU_MEMORY_BACKEND", c.Memory.Backend)
	c.Memory.Path = environment.StringOr("KIOKU_MEMORY_PATH", c.Memory.Path)
	c.Memory.Conversation = environment.StringOr("KIOKU_CONVERSATION", c.Memory.Conversation)
	c.Memory.MaxHistoryTokens = environment.IntOr("KIOKU_MAX_HISTORY_TOKENS", c.Memory.MaxHistoryTokens)
	c.Memory.ContextTokenLimit = environment.IntOr("KIOKU_CONTEXT_TOKEN_LIMIT", c.Memory.ContextTokenLimit)
	c.Memory.Tokenizer = environment.StringOr("KIOKU_TOKENIZER", c.Memory.Tokenizer)

	c.OCR.Lang = environment.StringOr("KIOKU_OCR_LANG", c.OCR.Lang)
	c.OCR.Args = environment.StringSliceOr("KIOKU_OCR_ARGS", c.OCR.Args)
	c.JSON.OutputDir = environment.StringOr("KIOKU_OUTPUT_DIR", c.JSON.OutputDir)
	c.JSON.Repair = environment.BoolOr("KIOKU_JSON_REPAIR", c.JSON.Repair)

	c.Log.Level = environment.StringOr("KIOKU_LOG_LEVEL", c.Log.Level)
	c.Log.Format = environment.StringOr("KIOKU_LOG_FORMAT", c.Log.Format)
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: must not be nil")
	}

	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("config: provider must be %q or %q, got %q", ProviderOpenAI, ProviderAnthropic, c.Provider)
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("config: api_key is required (set KIOKU_API_KEY or OPENROUTER_API_KEY)")
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("config: model must not be empty")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must not be negative, got %s", c.Timeout)
	}
	if c.MaxReplyTokens < 0 {
		return fmt.Errorf("config: max_reply_tokens must not be negative, got %d", c.MaxReplyTokens)
	}

	if err := c.Memory.validate(); err != nil {
		return fmt.Errorf("config: memory: %w", err)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format %q is not text or json", c.Log.Format)
	}
	return nil
}

func (m MemoryConfig) validate() error {
	switch m.Backend {
	case BackendFile, BackendSQLite:
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendFile, BackendSQLite, m.Backend)
	}
	if strings.TrimSpace(m.Path) == "" {
		return errors.New("path must not be empty")
	}
	if m.MaxHistoryTokens <= 0 {
		return fmt.Errorf("max_history_tokens must be positive, got %d", m.MaxHistoryTokens)
	}
	if m.ContextTokenLimit <= 0 {
		return fmt.Errorf("context_token_limit must be positive, got %d", m.ContextTokenLimit)
	}
	if m.MaxHistoryTokens > m.ContextTokenLimit {
		return fmt.Errorf("max_history_tokens (%d) exceeds context_token_limit (%d)", m.MaxHistoryTokens, m.ContextTokenLimit)
	}
	if strings.TrimSpace(m.Tokenizer) == "" {
		return errors.New("tokenizer must not be empty")
	}
	return nil
}

// String renders the configuration as YAML with the API key masked.
func (c Config) String() string {
	c.APIKey = redact.Mask(c.APIKey)
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}
