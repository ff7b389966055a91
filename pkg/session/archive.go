package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Archive is long-term memory built from session snapshots. Recall searches
// every archived session of the same application and user.
type Archive interface {
	// Add stores a snapshot of s, replacing any earlier snapshot of the same session.
	Add(ctx context.Context, s *Session) error

	// Forget drops the snapshot of one session.
	Forget(ctx context.Context, id Identity) error

	// Recall returns archived exchanges sharing a word with query, oldest first.
	Recall(ctx context.Context, id Identity, query string) ([]string, error)
}

type archiveOwner struct {
	appID  string
	userID string
}

// MemoryArchive implements Archive in process memory with keyword matching.
type MemoryArchive struct {
	snapshots map[archiveOwner]map[string][]Turn
	limit     int
	mu        sync.RWMutex
}

// NewMemoryArchive creates an archive returning at most limit entries per
// recall. A limit of zero or less returns every match.
func NewMemoryArchive(limit int) *MemoryArchive {
	return &MemoryArchive{
		snapshots: make(map[archiveOwner]map[string][]Turn),
		limit:     limit,
	}
}

// Add snapshots the turns of s.
func (a *MemoryArchive) Add(_ context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	owner := archiveOwner{appID: s.ID.AppID, userID: s.ID.UserID}
	turns := make([]Turn, len(s.Turns))
	copy(turns, s.Turns)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.snapshots[owner] == nil {
		a.snapshots[owner] = make(map[string][]Turn)
	}
	a.snapshots[owner][s.ID.SessionID] = turns
	return nil
}

// Forget drops a session snapshot. Forgetting an unknown session is not an error.
func (a *MemoryArchive) Forget(_ context.Context, id Identity) error {
	owner := archiveOwner{appID: id.AppID, userID: id.UserID}

	a.mu.Lock()
	defer a.mu.Unlock()

	if sessions, ok := a.snapshots[owner]; ok {
		delete(sessions, id.SessionID)
		if len(sessions) == 0 {
			delete(a.snapshots, owner)
		}
	}
	return nil
}

// Recall returns "User: ...\nAgent: ..." entries whose text shares a word with query.
func (a *MemoryArchive) Recall(_ context.Context, id Identity, query string) ([]string, error) {
	words := wordSet(query)
	if len(words) == 0 {
		return nil, nil
	}
	owner := archiveOwner{appID: id.AppID, userID: id.UserID}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return recall(a.snapshots[owner], words, a.limit), nil
}

// recall matches non-seed turns of snapshots against words, keeping the
// newest limit matches in chronological order.
func recall(snapshots map[string][]Turn, words map[string]struct{}, limit int) []string {
	var matches []Turn
	for _, turns := range snapshots {
		for _, t := range turns {
			if t.Seed {
				continue
			}
			if sharesWord(words, t.User) || sharesWord(words, t.Agent) {
				matches = append(matches, t)
			}
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}

	out := make([]string, len(matches))
	for i, t := range matches {
		out[i] = "User: " + t.User + "\nAgent: " + t.Agent
	}
	return out
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) > 2 {
			set[w] = struct{}{}
		}
	}
	return set
}

func sharesWord(words map[string]struct{}, text string) bool {
	for w := range wordSet(text) {
		if _, ok := words[w]; ok {
			return true
		}
	}
	return false
}
