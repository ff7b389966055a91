package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "KEEPER"

// LoadOptions locates the optional configuration files.
type LoadOptions struct {
	// ConfigPath is a YAML file. A missing file is an error only when the
	// path was set explicitly.
	ConfigPath string

	// EnvFile is a dotenv file. Missing files are skipped. Defaults to ".env".
	EnvFile string
}

// Load builds the configuration from every layer and validates it.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.ConfigPath != "" {
		if err := loadYAML(opts.ConfigPath, cfg); err != nil {
			return nil, err
		}
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables already set in the process.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}

	cfg.LLM.Provider = strings.ToLower(cfg.LLM.Provider)
	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKey(cfg.LLM.Provider)
	}
	cfg.Compaction.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func providerKey(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}
