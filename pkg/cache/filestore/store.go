// Package filestore is a directory-backed response cache bounded by entry
// count.
//
// Each entry is a single file named by its fingerprint holding the raw
// response text. The file modification time is the only recency signal: it
// is set when an entry is written and never touched by reads. When a write
// pushes the directory past its capacity the oldest files are removed.
//
// No locking is performed. Concurrent writers may briefly leave more entries
// than the capacity allows; the next Put trims the directory again.
package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/cortexshell/cortex/pkg/models"
)

var (
	// ErrWrite wraps failures to persist an entry.
	ErrWrite = errors.New("filestore: write entry")
	// ErrInvalidKey is returned for keys that are not plain file names.
	ErrInvalidKey = errors.New("filestore: invalid key")
	// ErrInvalidCapacity is returned by New for a capacity below one.
	ErrInvalidCapacity = errors.New("filestore: capacity must be positive")
)

const tempPattern = ".entry-*"

// Store is a bounded cache of response texts on the local filesystem.
type Store struct {
	dir      string
	capacity int
	logger   *slog.Logger
	hits     atomic.Int64
	misses   atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for eviction diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New opens the store rooted at dir, creating the directory if needed.
func New(dir string, capacity int, opts ...Option) (*Store, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	s := &Store{dir: dir, capacity: capacity, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Capacity returns the maximum number of entries kept after a Put.
func (s *Store) Capacity() int { return s.capacity }

// Get returns the text stored under key. A missing entry is reported as
// ok == false with a nil error; any other filesystem failure is returned.
func (s *Store) Get(key string) (string, bool, error) {
	path, err := s.path(key)
	if err != nil {
		return "", false, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.misses.Add(1)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read cache entry %s: %w", key, err)
	}

	s.hits.Add(1)
	return string(data), true, nil
}

// Put stores text under key, replacing any previous entry, and then evicts
// the oldest entries until at most Capacity remain. The entry just written
// is never evicted by the same call.
func (s *Store) Put(key, text string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.write(path, text); err != nil {
		return fmt.Errorf("%w %s: %w", ErrWrite, key, err)
	}
	return s.evict(key)
}

// write replaces path through a temporary file so readers never see a
// partially written entry.
func (s *Store) write(path, text string) error {
	tmp, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *Store) evict(keep string) error {
	entries, err := s.Entries()
	if err != nil {
		return err
	}
	excess := len(entries) - s.capacity
	for _, e := range entries {
		if excess <= 0 {
			break
		}
		if e.Fingerprint == keep {
			continue
		}
		err := os.Remove(filepath.Join(s.dir, e.Fingerprint))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("evict cache entry %s: %w", e.Fingerprint, err)
		}
		s.logger.Debug("evicted cache entry", "fingerprint", e.Fingerprint, "mod_time", e.ModTime)
		excess--
	}
	return nil
}

// Entries lists the stored entries ordered from least to most recently
// written.
func (s *Store) Entries() ([]models.CacheEntry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	entries := make([]models.CacheEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed by a concurrent writer since ReadDir.
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat cache entry %s: %w", de.Name(), err)
		}
		entries = append(entries, models.CacheEntry{
			Fingerprint: de.Name(),
			Size:        info.Size(),
			ModTime:     info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].Fingerprint < entries[j].Fingerprint
		}
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	return entries, nil
}

// Clear removes every entry by wiping and recreating the directory.
func (s *Store) Clear() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("clear cache dir: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	return nil
}

// Stats returns occupancy and the hit and miss counts of this Store value.
func (s *Store) Stats() (models.CacheStats, error) {
	entries, err := s.Entries()
	if err != nil {
		return models.CacheStats{}, err
	}
	stats := models.CacheStats{
		Dir:      s.dir,
		Entries:  int64(len(entries)),
		Capacity: s.capacity,
		Hits:     s.hits.Load(),
		Misses:   s.misses.Load(),
	}
	for _, e := range entries {
		stats.TotalBytes += e.Size
	}
	return stats, nil
}

func (s *Store) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.dir, key), nil
}
