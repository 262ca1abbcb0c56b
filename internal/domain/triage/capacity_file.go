package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileCapacityStore keeps the capacity table as an indented JSON object on
// disk, e.g. {"Cardiology": 10}.
type FileCapacityStore struct {
	mu   sync.Mutex
	path string
}

func NewFileCapacityStore(path string) *FileCapacityStore {
	return &FileCapacityStore{path: path}
}

func (s *FileCapacityStore) Load(_ context.Context) (map[string]int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", s.path, err)
	}
	var caps map[string]int
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return caps, true, nil
}

// Save writes through a temp file and rename so readers never observe a
// partial table.
func (s *FileCapacityStore) Save(_ context.Context, caps map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(caps, "", "  ")
	if err != nil {
		return fmt.Errorf("encode capacity: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".capacity-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write capacity: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}
