// Package cache stores optimized runtime archives keyed by build
// parameters.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-edge-platform/bundlr/internal/utils/archive"
)

// Entry describes one cached runtime archive.
type Entry struct {
	Key              string    `json:"key"`
	ArchivePath      string    `json:"archive_path"`
	Size             int64     `json:"size"`
	RuntimePath      string    `json:"runtime_path"`
	SitePackagesPath string    `json:"site_packages_path"`
	PythonVersion    string    `json:"python_version"`
	Target           string    `json:"target"`
	Optimize         string    `json:"optimize"`
	OriginalSize     int64     `json:"original_size"`
	CompressedSize   int64     `json:"compressed_size"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store is a get/put cache. Get returns nil, nil on a miss.
type Store interface {
	Get(key string) (*Entry, error)
	Put(key string, e *Entry) (*Entry, error)
}

// Key hashes parts into a stable cache key.
func Key(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

// DiskStore keeps entries under Dir as
//
//	{Dir}/
//	  {key[0:2]}/
//	    {key}/
//	      metadata.json
//	      {archive file}
type DiskStore struct {
	Dir string
}

// NewDiskStore creates a filesystem-backed store.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{Dir: dir}
}

func (s *DiskStore) entryPath(key string) string {
	if len(key) < 2 {
		return filepath.Join(s.Dir, key)
	}
	return filepath.Join(s.Dir, key[:2], key)
}

// Get loads the entry for key. Entries whose archive has gone missing are
// reported as misses.
func (s *DiskStore) Get(key string) (*Entry, error) {
	entryDir := s.entryPath(key)
	data, err := os.ReadFile(filepath.Join(entryDir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache metadata: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parsing cache metadata: %w", err)
	}
	e.ArchivePath = filepath.Join(entryDir, e.ArchivePath)
	if _, err := os.Stat(e.ArchivePath); err != nil {
		return nil, nil
	}
	return &e, nil
}

// Put copies the entry's archive into the store and records its metadata.
// The entry directory is assembled in a temp dir and renamed into place.
func (s *DiskStore) Put(key string, e *Entry) (*Entry, error) {
	if e == nil {
		return nil, fmt.Errorf("cache entry is nil")
	}
	entryDir := s.entryPath(key)
	parentDir := filepath.Dir(entryDir)
	if err := os.MkdirAll(parentDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	tmpDir, err := os.MkdirTemp(parentDir, "tmp-entry-")
	if err != nil {
		return nil, fmt.Errorf("creating temp cache entry dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmpDir)
		}
	}()

	name := filepath.Base(e.ArchivePath)
	if err := archive.CopyFile(e.ArchivePath, filepath.Join(tmpDir, name), 0644); err != nil {
		return nil, fmt.Errorf("copying archive into cache: %w", err)
	}

	stored := *e
	stored.Key = key
	stored.ArchivePath = name
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling cache metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "metadata.json"), data, 0644); err != nil {
		return nil, fmt.Errorf("writing cache metadata: %w", err)
	}

	// A crash between remove and rename yields a miss, not a corrupt entry.
	os.RemoveAll(entryDir)
	if err := os.Rename(tmpDir, entryDir); err != nil {
		return nil, fmt.Errorf("committing cache entry: %w", err)
	}
	committed = true

	stored.ArchivePath = filepath.Join(entryDir, name)
	return &stored, nil
}

// MemoryStore keeps entries in memory. The archive files are referenced in
// place.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Get(key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *MemoryStore) Put(key string, e *Entry) (*Entry, error) {
	if e == nil {
		return nil, fmt.Errorf("cache entry is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *e
	stored.Key = key
	s.entries[key] = stored
	return &stored, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
