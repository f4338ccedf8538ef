// Package statestore provides atomic whole-file JSON snapshot persistence.
//
// Each named snapshot is read wholesale at startup and rewritten wholesale
// after mutation. Writes go to a temp file followed by an atomic rename so a
// partially written snapshot is never observable. A missing file is a valid
// fresh start, not an error.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Store persists named JSON snapshots under a single directory.
type Store struct {
	mu     sync.Mutex
	logger *zap.Logger
	dir    string
}

// NewStore creates a snapshot store rooted at dir, creating it if needed.
func NewStore(logger *zap.Logger, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{
		logger: logger.Named("statestore"),
		dir:    dir,
	}, nil
}

// Load reads the named snapshot into v. It returns false with a nil error
// when the snapshot does not exist or cannot be decoded: corrupt state is
// recovered by starting fresh, never by failing startup.
func (s *Store) Load(name string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read snapshot %s: %w", name, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("Snapshot is corrupt, starting fresh",
			zap.String("snapshot", name),
			zap.Error(err))
		return false, nil
	}

	return true, nil
}

// Save atomically replaces the named snapshot with the JSON encoding of v.
func (s *Store) Save(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %s: %w", name, err)
	}

	final := s.path(name)
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace snapshot %s: %w", name, err)
	}

	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}
