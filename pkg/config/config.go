// Package config loads keeper's configuration.
//
// Values are layered, later layers winning: built-in defaults, a YAML file,
// a .env file, KEEPER_* environment variables, and finally the provider's
// conventional API key variable when no key was set.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/keeper/pkg/compaction"
	"github.com/entrhq/keeper/pkg/llm"
	"github.com/entrhq/keeper/pkg/logging"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// AppConfig names the session the chat command talks to.
type AppConfig struct {
	// AppID, UserID and SessionID form the session identity.
	AppID     string `yaml:"app_id" envconfig:"ID"`
	UserID    string `yaml:"user_id" envconfig:"USER_ID"`
	SessionID string `yaml:"session_id" envconfig:"SESSION_ID"`

	// SystemPrompt replaces the agent's default instructions when set.
	SystemPrompt string `yaml:"system_prompt" envconfig:"SYSTEM_PROMPT"`

	// RecallLimit caps archived memories injected into a prompt.
	RecallLimit int `yaml:"recall_limit" envconfig:"RECALL_LIMIT"`

	// MaxPromptTurns caps prior turns replayed into a prompt. Zero replays all.
	MaxPromptTurns int `yaml:"max_prompt_turns" envconfig:"MAX_PROMPT_TURNS"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	// Provider is openai or anthropic.
	Provider string `yaml:"provider" envconfig:"PROVIDER"`
	Model    string `yaml:"model" envconfig:"MODEL"`
	BaseURL  string `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey   string `yaml:"api_key" envconfig:"API_KEY"`

	// SummaryModel is used for compaction summaries. Defaults to Model.
	SummaryModel string `yaml:"summary_model" envconfig:"SUMMARY_MODEL"`

	// MaxTokens caps reply length where the provider supports it.
	MaxTokens int `yaml:"max_tokens" envconfig:"MAX_TOKENS"`
}

// StoreConfig selects the session store backend.
type StoreConfig struct {
	// Backend is memory, redis or postgres.
	Backend     string        `yaml:"backend" envconfig:"BACKEND"`
	RedisURL    string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	DatabaseURL string        `yaml:"database_url" envconfig:"DATABASE_URL"`
	TTL         time.Duration `yaml:"ttl" envconfig:"TTL"`

	// ArchiveDir persists long-term memory on disk. Empty keeps it in memory.
	ArchiveDir string `yaml:"archive_dir" envconfig:"ARCHIVE_DIR"`
}

// RecordsConfig controls the outreach record deduplication.
type RecordsConfig struct {
	Path      string `yaml:"path" envconfig:"PATH"`
	BackupDir string `yaml:"backup_dir" envconfig:"BACKUP_DIR"`

	// Schedule is a cron spec for the schedule command.
	Schedule string `yaml:"schedule" envconfig:"SCHEDULE"`

	// KeepBackups prunes older backups after a write. Zero keeps all.
	KeepBackups     int           `yaml:"keep_backups" envconfig:"KEEP_BACKUPS"`
	PassTimeout     time.Duration `yaml:"pass_timeout" envconfig:"PASS_TIMEOUT"`
	RequireNonEmpty bool          `yaml:"require_non_empty" envconfig:"REQUIRE_NON_EMPTY"`
}

// Config is the complete application configuration.
type Config struct {
	App        AppConfig         `yaml:"app" envconfig:"APP"`
	LLM        LLMConfig         `yaml:"llm" envconfig:"LLM"`
	Retry      llm.RetryConfig   `yaml:"retry" envconfig:"RETRY"`
	Compaction compaction.Config `yaml:"compaction" envconfig:"COMPACTION"`
	Store      StoreConfig       `yaml:"store" envconfig:"STORE"`
	Records    RecordsConfig     `yaml:"records" envconfig:"RECORDS"`
	Log        logging.LogConfig `yaml:"log" envconfig:"LOG"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		App: AppConfig{
			AppID:       "keeper",
			UserID:      "default",
			SessionID:   "main",
			RecallLimit: 5,
		},
		LLM: LLMConfig{
			Provider: ProviderOpenAI,
		},
		Retry:      llm.DefaultRetryConfig(),
		Compaction: *compaction.DefaultConfig(),
		Store: StoreConfig{
			Backend: BackendMemory,
		},
		Records: RecordsConfig{
			Path:        "sent_emails.json",
			Schedule:    "@daily",
			PassTimeout: 5 * time.Minute,
		},
		Log: logging.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "file",
		},
	}
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.App.AppID == "" || c.App.UserID == "" || c.App.SessionID == "" {
		add("app.app_id, app.user_id and app.session_id are required")
	}
	if c.App.RecallLimit < 0 || c.App.MaxPromptTurns < 0 {
		add("app limits must be non-negative")
	}

	switch strings.ToLower(c.LLM.Provider) {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		add("llm.provider must be %q or %q, got %q", ProviderOpenAI, ProviderAnthropic, c.LLM.Provider)
	}

	switch strings.ToLower(c.Store.Backend) {
	case BackendMemory:
	case BackendRedis:
		if c.Store.RedisURL == "" {
			add("store.redis_url is required for the redis backend")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres backend")
		}
	default:
		add("store.backend must be memory, redis or postgres, got %q", c.Store.Backend)
	}
	if c.Store.TTL < 0 {
		add("store.ttl must be non-negative")
	}

	if c.Records.KeepBackups < 0 {
		add("records.keep_backups must be non-negative")
	}

	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	if err := c.Compaction.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}

	switch strings.ToLower(c.Log.Output) {
	case "", "file", "stdout", "stderr":
	default:
		add("log.output must be file, stdout or stderr, got %q", c.Log.Output)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "console":
	default:
		add("log.format must be json or console, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}
