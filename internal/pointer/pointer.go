// Package pointer remembers, per device, which session is resumable for each
// scenario. Implementations are keyed by scenario id and hold session ids.
package pointer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LatestKey holds the most recently started or resumed session regardless of
// scenario.
const LatestKey = "_latest"

// LearnerKey holds the device's anonymous learner id.
const LearnerKey = "_learner"

// Store is a small get/set/clear cache of session pointers.
// Get returns ok == false when no pointer exists for key.
type Store interface {
	Get(ctx context.Context, key string) (sessionID string, ok bool, err error)
	Set(ctx context.Context, key, sessionID string) error
	Clear(ctx context.Context, key string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.Mutex
	pointers map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pointers: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pointers[key]
	return id, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointers[key] = sessionID
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pointers, key)
	return nil
}

// FileStore persists pointers as a JSON object in a single file. Writes go
// through a temp file and rename so a crash never leaves a partial file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a FileStore at path. The file and its directory are
// created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pointers, err := s.read()
	if err != nil {
		return "", false, err
	}
	id, ok := pointers[key]
	return id, ok, nil
}

func (s *FileStore) Set(_ context.Context, key, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pointers, err := s.read()
	if err != nil {
		return err
	}
	pointers[key] = sessionID
	return s.write(pointers)
}

func (s *FileStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pointers, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := pointers[key]; !ok {
		return nil
	}
	delete(pointers, key)
	return s.write(pointers)
}

func (s *FileStore) read() (map[string]string, error) {
	pointers := make(map[string]string)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return pointers, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pointer file: %w", err)
	}
	if len(data) == 0 {
		return pointers, nil
	}
	if err := json.Unmarshal(data, &pointers); err != nil {
		return nil, fmt.Errorf("decode pointer file %s: %w", s.path, err)
	}
	return pointers, nil
}

func (s *FileStore) write(pointers map[string]string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create pointer dir: %w", err)
	}

	data, err := json.MarshalIndent(pointers, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pointers: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pointers-*.json")
	if err != nil {
		return fmt.Errorf("create temp pointer file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp pointer file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp pointer file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace pointer file: %w", err)
	}
	return nil
}
