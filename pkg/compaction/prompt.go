package compaction

import "strings"

// SeedPreamble opens the synthetic turn that carries a summary into a recreated session.
const SeedPreamble = "SYSTEM UPDATE: The conversation memory has been pruned. " +
	"Here is the summary of the previous conversation to provide context:\n"

// FallbackSummary replaces the summary when summarization fails.
const FallbackSummary = "Summary unavailable: the previous conversation could not be summarized."

// BuildSummaryPrompt builds the summarization request for a transcript.
func BuildSummaryPrompt(transcript string) string {
	var b strings.Builder
	b.WriteString("Please summarize the following conversation history.\n")
	b.WriteString("Focus on key decisions, user preferences, and important facts found.\n")
	b.WriteString("Keep it concise.\n\n")
	b.WriteString("History:\n")
	b.WriteString(transcript)
	return b.String()
}

// SeedText builds the seed message for summary.
func SeedText(summary string) string {
	return SeedPreamble + summary
}
