package compaction

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	DefaultThreshold      = 20
	DefaultSummaryTimeout = 2 * time.Minute
	DefaultTokenEncoding  = "cl100k_base"
)

// Config holds compaction configuration.
type Config struct {
	// TokenEncoding names the tiktoken encoding used for token estimates,
	// for example "cl100k_base". Empty uses the four-characters-per-token estimate.
	TokenEncoding string `yaml:"token_encoding" envconfig:"TOKEN_ENCODING"`

	// Threshold is the number of successful turns between compactions.
	// Default: 20
	Threshold int `yaml:"threshold" envconfig:"THRESHOLD"`

	// SummaryTimeout bounds the summarization call. Zero means no extra bound.
	// Default: 2m
	SummaryTimeout time.Duration `yaml:"summary_timeout" envconfig:"SUMMARY_TIMEOUT"`
}

// DefaultConfig returns a Config with the default values.
func DefaultConfig() *Config {
	return &Config{
		Threshold:      DefaultThreshold,
		SummaryTimeout: DefaultSummaryTimeout,
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("%w: threshold must be positive, got %d", ErrInvalidConfig, c.Threshold)
	}
	if c.SummaryTimeout < 0 {
		return fmt.Errorf("%w: summary_timeout must be non-negative, got %s", ErrInvalidConfig, c.SummaryTimeout)
	}
	return nil
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.SummaryTimeout == 0 {
		c.SummaryTimeout = DefaultSummaryTimeout
	}
}
