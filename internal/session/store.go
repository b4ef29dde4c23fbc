package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Snapshot is the single persisted blob mirroring in-memory session state.
// Field names match what the backend's web client writes, so the two can
// share a storage slot.
type Snapshot struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Role            string `json:"role"`
	UserID          string `json:"userId"`
	Token           string `json:"token"`
	Email           string `json:"email"`
}

// Store persists the session snapshot. Last writer wins; the Manager is the
// sole writer.
type Store interface {
	Load() (Snapshot, bool, error)
	Save(Snapshot) error
	Clear() error
}

// FileStore keeps the snapshot as a JSON file with owner-only permissions.
type FileStore struct {
	path string
}

// NewFileStore builds a store rooted at path. The parent directory is created
// on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns the conventional snapshot location under the user's
// home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hospitalcrm/session.json"
	}
	return filepath.Join(home, ".hospitalcrm", "session.json")
}

func (s *FileStore) Load() (Snapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("read session snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode session snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *FileStore) Save(snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write session snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session snapshot: %w", err)
	}
	return nil
}

// MemoryStore is an in-process store used by tests and the CLI's --no-persist
// mode.
type MemoryStore struct {
	mu   sync.Mutex
	snap Snapshot
	set  bool
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load() (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.set, nil
}

func (s *MemoryStore) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.set = true
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{}
	s.set = false
	return nil
}
