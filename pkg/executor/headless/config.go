package headless

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Script is the configuration of one headless run.
type Script struct {
	// Prompts are sent in order, one turn each.
	Prompts []string `yaml:"prompts" json:"prompts"`

	// TurnTimeout bounds each turn. Zero means no per-turn limit.
	TurnTimeout time.Duration `yaml:"turn_timeout" json:"turn_timeout"`

	// StopOnFailure ends the run at the first failed turn.
	StopOnFailure bool `yaml:"stop_on_failure" json:"stop_on_failure"`

	Artifacts ArtifactConfig `yaml:"artifacts" json:"artifacts"`
}

// ArtifactConfig selects which artifacts are written, and where.
type ArtifactConfig struct {
	OutputDir string `yaml:"output_dir" json:"output_dir"`

	JSON     bool `yaml:"json" json:"json"`
	Markdown bool `yaml:"markdown" json:"markdown"`
}

// Enabled reports whether any artifact is written.
func (a ArtifactConfig) Enabled() bool {
	return a.OutputDir != "" && (a.JSON || a.Markdown)
}

// DefaultScript returns a script with no prompts and every artifact enabled.
func DefaultScript() *Script {
	return &Script{
		TurnTimeout: 5 * time.Minute,
		Artifacts: ArtifactConfig{
			OutputDir: ".keeper/artifacts",
			JSON:      true,
			Markdown:  true,
		},
	}
}

// LoadScript reads a YAML script on top of DefaultScript and validates it.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	script := DefaultScript()
	if err := yaml.Unmarshal(data, script); err != nil {
		return nil, fmt.Errorf("failed to parse script %s: %w", path, err)
	}
	if err := script.Validate(); err != nil {
		return nil, err
	}
	return script, nil
}

// Validate validates the script.
func (s *Script) Validate() error {
	if len(s.Prompts) == 0 {
		return fmt.Errorf("at least one prompt is required")
	}
	for i, p := range s.Prompts {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("prompt %d is empty", i+1)
		}
	}
	if s.TurnTimeout < 0 {
		return fmt.Errorf("turn_timeout cannot be negative")
	}
	return nil
}
