package routines

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const storeVersion = 1

type storeDoc struct {
	Version int        `json:"version"`
	Jobs    []*Routine `json:"jobs"`
}

// Store persists the job list as one JSON document, rewritten
// atomically on every mutation.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the job list. A missing file is an empty list.
func (s *Store) Load() ([]*Routine, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc storeDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse routines file: %w", err)
	}
	return doc.Jobs, nil
}

// Save writes the full job list via temp-file and rename.
func (s *Store) Save(jobs []*Routine) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(storeDoc{Version: storeVersion, Jobs: jobs}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
