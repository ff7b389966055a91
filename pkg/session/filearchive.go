package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
)

// FileArchive implements Archive on the local file system, one JSON snapshot
// per session under <dir>/<app>/<user>/<session>.json. Snapshots survive
// restarts, so recall spans every past run.
type FileArchive struct {
	dir   string
	limit int
	mu    sync.RWMutex
}

// NewFileArchive creates dir if needed and returns an archive rooted there.
// limit behaves as for NewMemoryArchive.
func NewFileArchive(dir string, limit int) (*FileArchive, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("session: init archive directory %s: %w", dir, err)
	}
	return &FileArchive{dir: dir, limit: limit}, nil
}

// Add writes a snapshot of s atomically via a temporary file. Recorded events
// are not archived.
func (a *FileArchive) Add(_ context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	path, err := a.pathFor(s.ID)
	if err != nil {
		return err
	}

	turns := make([]Turn, len(s.Turns))
	for i, t := range s.Turns {
		t.Events = nil
		turns[i] = t
	}
	data, err := sonic.ConfigStd.Marshal(turns)
	if err != nil {
		return fmt.Errorf("session: encode snapshot: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("session: create archive directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("session: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("session: atomic rename %s: %w", path, err)
	}
	return nil
}

// Forget removes the snapshot of id. Forgetting an unknown session is not an error.
func (a *FileArchive) Forget(_ context.Context, id Identity) error {
	path, err := a.pathFor(id)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: remove snapshot: %w", err)
	}
	return nil
}

// Recall searches every snapshot of id's application and user. Corrupt
// snapshot files are skipped.
func (a *FileArchive) Recall(_ context.Context, id Identity, query string) ([]string, error) {
	words := wordSet(query)
	if len(words) == 0 {
		return nil, nil
	}
	dir, err := a.ownerDir(id)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: list %s: %w", dir, err)
	}

	snapshots := make(map[string][]Turn, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			debugLog.Debugf("Skipping unreadable snapshot %s: %v", path, err)
			continue
		}
		var turns []Turn
		if err := sonic.ConfigStd.Unmarshal(data, &turns); err != nil {
			debugLog.Debugf("Skipping corrupt snapshot %s: %v", path, err)
			continue
		}
		snapshots[strings.TrimSuffix(e.Name(), ".json")] = turns
	}
	return recall(snapshots, words, a.limit), nil
}

func (a *FileArchive) ownerDir(id Identity) (string, error) {
	for _, part := range []string{id.AppID, id.UserID} {
		if err := checkPathPart(part); err != nil {
			return "", err
		}
	}
	return filepath.Join(a.dir, id.AppID, id.UserID), nil
}

func (a *FileArchive) pathFor(id Identity) (string, error) {
	dir, err := a.ownerDir(id)
	if err != nil {
		return "", err
	}
	if err := checkPathPart(id.SessionID); err != nil {
		return "", err
	}
	return filepath.Join(dir, id.SessionID+".json"), nil
}

func checkPathPart(part string) error {
	if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
		return fmt.Errorf("%w: %q cannot be used as a path component", ErrInvalidIdentity, part)
	}
	return nil
}
