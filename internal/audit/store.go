package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	fileTimeFormat = "2006-01-02_15-04-05"
	batchPrefix    = "ipset_rules"
)

// Store writes run logs and batch artifacts under a single directory. Files
// are never rewritten once created.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) ensureDir() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// create opens a new file named <base>-<timestamp><ext>, adding a numeric
// suffix if a file with that name already exists.
func (s *Store) create(base, ext string) (*os.File, error) {
	if err := s.ensureDir(); err != nil {
		return nil, err
	}
	stamp := s.now().Format(fileTimeFormat)
	for i := 0; i < 100; i++ {
		name := fmt.Sprintf("%s-%s%s", base, stamp, ext)
		if i > 0 {
			name = fmt.Sprintf("%s-%s-%d%s", base, stamp, i, ext)
		}
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", name, err)
		}
		return f, nil
	}
	return nil, fmt.Errorf("failed to create %s file: too many files for %s", base, stamp)
}

// SaveBatch stores the literal instruction list of an apply.
func (s *Store) SaveBatch(script []byte, failed bool) (string, error) {
	ext := ".txt"
	if failed {
		ext = ".failed.txt"
	}
	f, err := s.create(batchPrefix, ext)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(script); err != nil {
		return f.Name(), fmt.Errorf("failed to write batch artifact: %w", err)
	}
	return f.Name(), nil
}

// OpenRunLog creates <prefix>-run-<timestamp>.log for append-only writes.
func (s *Store) OpenRunLog(prefix string) (*os.File, error) {
	return s.create(prefix+"-run", ".log")
}

// Latest returns the newest file whose name starts with prefix.
func (s *Store) Latest(prefix string) (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("failed to read log directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasPrefix(entry.Name(), prefix) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", os.ErrNotExist
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return filepath.Join(s.dir, names[0]), nil
}
