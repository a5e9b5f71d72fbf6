package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// DefaultStorageDir is the default directory for file-backed persistence,
// following the teacher's token-storage-directory convention.
const DefaultStorageDir = ".config/mcpauth/delegate"

// fileEntry is the on-disk envelope for one key, carrying its own expiry
// so a restart doesn't resurrect an entry a TTL should have evicted.
type fileEntry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (e *fileEntry) expired() bool {
	return !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt)
}

// FileStore is a Store backed by one JSON document per key under root,
// guarded by an advisory per-key file lock (github.com/gofrs/flock) so
// concurrent processes on the same host don't race a read-modify-write.
type FileStore struct {
	root string
}

// NewFileStore constructs a FileStore rooted at dir, creating it if
// necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultStorageDir)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) pathFor(key string) string {
	return filepath.Join(s.root, sanitizeKey(key)+".json")
}

func (s *FileStore) lockPathFor(key string) string {
	return filepath.Join(s.root, "."+sanitizeKey(key)+".lock")
}

// sanitizeKey maps a "client:"/"token:"/"pending:"/"state:"-schema key to
// a safe filename component.
func sanitizeKey(key string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_", "..", "_")
	return replacer.Replace(key)
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := s.readEntry(key)
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

func (s *FileStore) readEntry(key string) (*fileEntry, error) {
	data, err := os.ReadFile(s.pathFor(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	entry, err := decodeFileEntry(data)
	if err != nil {
		return nil, err
	}
	if entry.expired() {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Set implements Store.
func (s *FileStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	lock := flock.New(s.lockPathFor(key))
	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := lock.TryLockContext(lctx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("acquire lock for %s: %w", key, err)
	}
	defer lock.Unlock()

	entry := &fileEntry{Value: value, ExpiresAt: expiryFor(ttl)}
	return writeFileEntry(s.pathFor(key), entry)
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// CompareAndSwap implements Store.
func (s *FileStore) CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte, ttl time.Duration) error {
	lock := flock.New(s.lockPathFor(key))
	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := lock.TryLockContext(lctx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("acquire lock for %s: %w", key, err)
	}
	defer lock.Unlock()

	current, err := s.readEntry(key)
	exists := err == nil
	if err != nil && err != ErrNotFound {
		return err
	}

	if oldValue == nil {
		if exists {
			return ErrCASMismatch
		}
	} else {
		if !exists || string(current.Value) != string(oldValue) {
			return ErrCASMismatch
		}
	}

	return writeFileEntry(s.pathFor(key), &fileEntry{Value: newValue, ExpiresAt: expiryFor(ttl)})
}

func decodeFileEntry(data []byte) (*fileEntry, error) {
	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

// writeFileEntry writes entry to path via a temp file plus rename, so a
// reader never observes a partially written document.
func writeFileEntry(path string, entry *fileEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
