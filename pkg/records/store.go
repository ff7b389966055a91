package records

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// BackupTimeFormat is the timestamp layout embedded in backup file names.
const BackupTimeFormat = "20060102_150405"

// Store provides persistence for the record collection.
// The collection is read and written whole.
type Store interface {
	// Load reads the current document.
	Load(ctx context.Context) (*Document, error)

	// Save replaces the persisted document.
	Save(ctx context.Context, doc *Document) error

	// Backup writes a timestamped copy of doc and returns where it went.
	Backup(ctx context.Context, doc *Document) (string, error)
}

// BackupPruner is implemented by stores that can discard old backups.
type BackupPruner interface {
	// PruneBackups keeps the newest keep backups and returns the removed paths.
	PruneBackups(ctx context.Context, keep int) ([]string, error)
}

// timeNow is replaced in tests.
var timeNow = time.Now

// FileStore implements Store using a JSON file.
type FileStore struct {
	path      string
	backupDir string
	mu        sync.Mutex
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithBackupDir sets the directory backups are written to.
// Defaults to the directory of the document.
func WithBackupDir(dir string) FileStoreOption {
	return func(s *FileStore) {
		if dir != "" {
			s.backupDir = dir
		}
	}
}

// NewFileStore creates a file-based record store for the document at path.
func NewFileStore(path string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		path:      path,
		backupDir: filepath.Dir(path),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the file path of the document.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and decodes the document.
func (s *FileStore) Load(_ context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("records: read %s: %w", s.path, err)
	}

	doc := &Document{}
	if err := doc.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return doc, nil
}

// Save writes the document atomically via a temporary file.
func (s *FileStore) Save(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeDocument(s.path, doc)
}

// Backup writes doc next to the document as <stem>_backup_YYYYMMDD_HHMMSS.json.
// A numeric suffix is added when a backup with the same timestamp already exists.
func (s *FileStore) Backup(_ context.Context, doc *Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.backupDir, 0750); err != nil {
		return "", fmt.Errorf("records: create backup directory: %w", err)
	}

	base := fmt.Sprintf("%s_backup_%s", s.stem(), timeNow().Format(BackupTimeFormat))
	path := filepath.Join(s.backupDir, base+".json")
	for n := 2; ; n++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		path = filepath.Join(s.backupDir, fmt.Sprintf("%s_%d.json", base, n))
	}

	if err := writeDocument(path, doc); err != nil {
		return "", err
	}
	return path, nil
}

// PruneBackups keeps the newest keep backups of this document. A keep of
// zero or less disables pruning.
func (s *FileStore) PruneBackups(_ context.Context, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	backups, err := s.listBackups()
	if err != nil {
		return nil, err
	}
	if len(backups) <= keep {
		return nil, nil
	}

	var removed []string
	for _, name := range backups[keep:] {
		path := filepath.Join(s.backupDir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("records: remove backup %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// listBackups returns backup file names, newest first.
func (s *FileStore) listBackups() ([]string, error) {
	pattern, err := glob.Compile(glob.QuoteMeta(s.stem()) + "_backup_*.json")
	if err != nil {
		return nil, fmt.Errorf("records: compile backup pattern: %w", err)
	}

	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("records: list %s: %w", s.backupDir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !pattern.Match(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	prefix := s.stem() + "_backup_"
	sort.SliceStable(names, func(i, j int) bool {
		si, ni := backupOrder(names[i], prefix)
		sj, nj := backupOrder(names[j], prefix)
		if si != sj {
			return si > sj
		}
		return ni > nj
	})
	return names, nil
}

// backupOrder splits a backup name into its timestamp and same-second
// sequence number. An unsuffixed name is the first of its second.
func backupOrder(name, prefix string) (string, int) {
	rest := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
	if len(rest) <= len(BackupTimeFormat) {
		return rest, 1
	}
	stamp, suffix := rest[:len(BackupTimeFormat)], rest[len(BackupTimeFormat):]
	n, err := strconv.Atoi(strings.TrimPrefix(suffix, "_"))
	if err != nil || !strings.HasPrefix(suffix, "_") {
		return rest, 0
	}
	return stamp, n
}

func (s *FileStore) stem() string {
	return strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
}

func writeDocument(path string, doc *Document) error {
	if doc == nil {
		doc = &Document{}
	}
	data, err := codec.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("records: encode document: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("records: create directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("records: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("records: atomic rename %s: %w", path, err)
	}
	return nil
}
