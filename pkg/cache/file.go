package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/scrapernhl/scrapekit/internal/fsutil"
)

const fileExt = ".json"

// FileStore keeps one JSON file per entry under a directory.
// DeleteIfUnchanged is atomic against writes through the same FileStore;
// other processes sharing the directory can still race it.
type FileStore struct {
	dir string

	// mu orders Write against DeleteIfUnchanged.
	mu sync.Mutex
}

// DefaultDir returns ~/.scrapekit/cache, or a temp-dir path when the home
// directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "scrapekit", "cache")
	}
	return filepath.Join(home, ".scrapekit", "cache")
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("cache directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

// Read implements Store.
func (s *FileStore) Read(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	return data, nil
}

// Write implements Store. Expiry is enforced by Cache on read, so ttl is
// ignored.
func (s *FileStore) Write(_ context.Context, name string, data []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fsutil.WriteFileAtomic(s.path(name), data, 0o644)
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, name string) (bool, error) {
	err := os.Remove(s.path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("remove cache file: %w", err)
}

// DeleteIfUnchanged implements ConditionalDeleter.
func (s *FileStore) DeleteIfUnchanged(ctx context.Context, name string, seen []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Read(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !bytes.Equal(current, seen) {
		return false, nil
	}
	return s.Delete(ctx, name)
}

// List implements Store. Temp files from interrupted writes are skipped.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list cache directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || fsutil.IsTemp(e.Name()) || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	return names, nil
}

// Kind implements Store.
func (s *FileStore) Kind() string { return "file" }

// Location implements Store.
func (s *FileStore) Location() string { return s.dir }
