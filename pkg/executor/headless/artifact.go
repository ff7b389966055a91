package headless

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

var codec = sonic.ConfigStd

// TurnRecord is one processed prompt.
type TurnRecord struct {
	Index  int    `json:"index"`
	Prompt string `json:"prompt"`
	Status string `json:"status"`
	Reply  string `json:"reply,omitempty"`
	Error  string `json:"error,omitempty"`

	Compaction    *CompactionRecord `json:"compaction,omitempty"`
	CompactionErr string            `json:"compaction_error,omitempty"`

	Duration time.Duration `json:"duration"`
}

// CompactionRecord describes a compaction cycle triggered by a turn.
type CompactionRecord struct {
	ID             string `json:"id"`
	Summary        string `json:"summary"`
	Fallback       bool   `json:"fallback"`
	TurnsDiscarded int    `json:"turns_discarded"`
	TokensBefore   int    `json:"tokens_before"`
	TokensAfter    int    `json:"tokens_after"`
}

// Metrics aggregates a run.
type Metrics struct {
	Turns       int `json:"turns"`
	Succeeded   int `json:"succeeded"`
	Empty       int `json:"empty"`
	Failed      int `json:"failed"`
	Compactions int `json:"compactions"`
	Fallbacks   int `json:"fallbacks"`
}

// Summary is the complete record of a headless run.
type Summary struct {
	Session   string        `json:"session"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Turns     []TurnRecord  `json:"turns"`
	Metrics   Metrics       `json:"metrics"`
}

// ArtifactWriter handles writing run artifacts.
type ArtifactWriter struct {
	cfg ArtifactConfig
}

// NewArtifactWriter creates a new artifact writer.
func NewArtifactWriter(cfg ArtifactConfig) *ArtifactWriter {
	return &ArtifactWriter{cfg: cfg}
}

// WriteAll writes every configured artifact and returns their paths.
func (w *ArtifactWriter) WriteAll(summary *Summary) ([]string, error) {
	if !w.cfg.Enabled() {
		return nil, nil
	}
	if err := os.MkdirAll(w.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var paths []string
	if w.cfg.JSON {
		path, err := w.WriteTranscriptJSON(summary)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	if w.cfg.Markdown {
		path, err := w.WriteSummaryMarkdown(summary)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteTranscriptJSON writes the full summary as JSON.
func (w *ArtifactWriter) WriteTranscriptJSON(summary *Summary) (string, error) {
	path := filepath.Join(w.cfg.OutputDir, "transcript.json")

	data, err := codec.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal transcript: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	return path, nil
}

// WriteSummaryMarkdown writes a human-readable markdown summary.
func (w *ArtifactWriter) WriteSummaryMarkdown(summary *Summary) (string, error) {
	path := filepath.Join(w.cfg.OutputDir, "summary.md")

	var md strings.Builder
	md.WriteString("# Keeper Headless Run\n\n")
	fmt.Fprintf(&md, "**Session:** %s\n\n", summary.Session)
	fmt.Fprintf(&md, "**Status:** %s\n\n", summary.Status)
	fmt.Fprintf(&md, "**Started:** %s\n\n", summary.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&md, "**Duration:** %s\n\n", summary.Duration.Round(time.Millisecond))
	if summary.Error != "" {
		fmt.Fprintf(&md, "**Error:** %s\n\n", summary.Error)
	}

	md.WriteString("## Turns\n\n")
	for _, t := range summary.Turns {
		fmt.Fprintf(&md, "%d. [%s] %s\n", t.Index, t.Status, t.Prompt)
		if t.Error != "" {
			fmt.Fprintf(&md, "   Error: %s\n", t.Error)
		}
		if t.Compaction != nil {
			fmt.Fprintf(&md, "   Memory compacted: %d turns, ~%d → ~%d tokens\n",
				t.Compaction.TurnsDiscarded, t.Compaction.TokensBefore, t.Compaction.TokensAfter)
		}
		if t.CompactionErr != "" {
			fmt.Fprintf(&md, "   Compaction failed: %s\n", t.CompactionErr)
		}
	}
	md.WriteString("\n## Metrics\n\n")
	fmt.Fprintf(&md, "- **Turns:** %d\n", summary.Metrics.Turns)
	fmt.Fprintf(&md, "- **Succeeded:** %d\n", summary.Metrics.Succeeded)
	fmt.Fprintf(&md, "- **Empty:** %d\n", summary.Metrics.Empty)
	fmt.Fprintf(&md, "- **Failed:** %d\n", summary.Metrics.Failed)
	fmt.Fprintf(&md, "- **Compactions:** %d (%d fallback)\n", summary.Metrics.Compactions, summary.Metrics.Fallbacks)

	if err := os.WriteFile(path, []byte(md.String()), 0o600); err != nil {
		return "", fmt.Errorf("failed to write summary markdown: %w", err)
	}
	return path, nil
}
