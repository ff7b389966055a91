package compaction

import "strings"

// History is the transcript window that will be summarized at the next
// compaction: "User: ..." and "Agent: ..." lines, oldest first.
type History struct {
	lines []string
	turns int
}

// Append adds one exchange.
func (h *History) Append(user, reply string) {
	h.lines = append(h.lines, "User: "+user, "Agent: "+reply)
	h.turns++
}

// Turns returns the number of exchanges appended since the buffer started.
func (h *History) Turns() int {
	return h.turns
}

// Lines returns a copy of the buffered lines.
func (h *History) Lines() []string {
	return append([]string(nil), h.lines...)
}

// Transcript joins the buffered lines with newlines.
func (h *History) Transcript() string {
	return strings.Join(h.lines, "\n")
}

// newSummaryHistory starts a buffer carrying a summary forward.
func newSummaryHistory(summary string) *History {
	return &History{lines: []string{"Summary: " + summary}}
}
