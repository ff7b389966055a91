package compaction

import (
	"sync"

	"github.com/entrhq/keeper/pkg/session"
)

// Counter counts successful turns per session identity and signals every
// threshold-th turn.
type Counter struct {
	counts    map[session.Identity]int
	threshold int
	mu        sync.Mutex
}

// NewCounter creates a counter firing every threshold turns.
// A threshold below one falls back to DefaultThreshold.
func NewCounter(threshold int) *Counter {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Counter{
		counts:    make(map[session.Identity]int),
		threshold: threshold,
	}
}

// RecordTurn increments the count for id and reports whether the new count
// is a multiple of the threshold. Call it only for turns with a non-empty reply.
func (c *Counter) RecordTurn(id session.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counts[id]++
	return c.counts[id]%c.threshold == 0
}

// Reset sets the count for id back to zero.
func (c *Counter) Reset(id session.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, id)
}

// Count returns the current count for id.
func (c *Counter) Count(id session.Identity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}

// Threshold returns the configured threshold.
func (c *Counter) Threshold() int {
	return c.threshold
}
