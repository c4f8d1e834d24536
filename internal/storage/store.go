package storage

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrKeyNotFound is returned when a key doesn't exist in the store
var ErrKeyNotFound = errors.New("key not found")

// ErrInvalidKey is returned for empty keys
var ErrInvalidKey = errors.New("invalid key")

// recordExt is appended to every FileStore file name.
const recordExt = ".rec"

// Store holds encoded field records by cache key.
// All implementations must be safe for concurrent access
type Store interface {
	// Get retrieves a record by key
	// Returns ErrKeyNotFound if the key doesn't exist
	Get(key string) ([]byte, error)

	// Put stores a record, overwriting any existing one
	Put(key string, value []byte) error

	// Delete removes a record
	// No error if key doesn't exist
	Delete(key string) error

	// List returns all keys in sorted order
	List() []string

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Keys  int // Number of records
	Bytes int // Total size of all records in bytes
}

// MemoryStore keeps records in memory, for save/restore within one process
type MemoryStore struct {
	mu   sync.RWMutex      // Protects concurrent access
	data map[string][]byte // Key-record storage
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Get returns a copy of the record
func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[key]
	if !exists {
		return nil, ErrKeyNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Put stores a copy of the record
func (m *MemoryStore) Put(key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored

	return nil
}

// Delete removes a record (idempotent)
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalBytes := 0
	for _, value := range m.data {
		totalBytes += len(value)
	}

	return StoreStats{
		Keys:  len(m.data),
		Bytes: totalBytes,
	}
}

// FileStore is the on-disk field cache: one file per record in a single
// directory. Keys are path-escaped into file names, so keys containing
// slashes do not create subdirectories.
type FileStore struct {
	dir string
	mu  sync.RWMutex // Serialises writers against List/Stats
}

// NewFileStore opens (creating if needed) a cache directory
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the cache directory
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+recordExt)
}

func (f *FileStore) Get(key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrKeyNotFound
	}
	return data, err
}

// Put writes through a temporary file and renames it into place so readers
// never see a partial record
func (f *FileStore) Put(key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".put-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path(key))
}

func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileStore) List() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, recordExt))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (f *FileStore) Stats() StoreStats {
	var st StoreStats
	for _, key := range f.List() {
		fi, err := os.Stat(f.path(key))
		if err != nil {
			continue
		}
		st.Keys++
		st.Bytes += int(fi.Size())
	}
	return st
}
