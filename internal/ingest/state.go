package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State tracks progress so an interrupted ingest can resume without
// re-embedding finished documents.
type State struct {
	StartedAt         time.Time `json:"started_at"`
	LastProcessedAt   time.Time `json:"last_processed_at"`
	FilesProcessed    []string  `json:"files_processed"`
	ChunksWritten     int       `json:"chunks_written"`
	DuplicatesSkipped int       `json:"duplicates_skipped"`
	Errors            []string  `json:"errors"`

	path string
	done map[string]bool
}

// LoadState reads the state at path. A missing file, or an empty path,
// starts fresh; an empty path is never saved.
func LoadState(path string) (*State, error) {
	s := &State{StartedAt: time.Now().UTC(), path: expandHome(path)}
	if s.path != "" {
		data, err := os.ReadFile(s.path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read state: %w", err)
		default:
			if err := json.Unmarshal(data, s); err != nil {
				return nil, fmt.Errorf("parse state: %w", err)
			}
		}
	}

	s.done = make(map[string]bool, len(s.FilesProcessed))
	for _, f := range s.FilesProcessed {
		s.done[f] = true
	}
	return s, nil
}

// Save persists the state to disk.
func (s *State) Save() error {
	if s.path == "" {
		return nil
	}
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(s.path, data, 0o644)
}

func (s *State) IsProcessed(path string) bool {
	return s.done[path]
}

func (s *State) MarkProcessed(path string) {
	if s.done[path] {
		return
	}
	s.done[path] = true
	s.FilesProcessed = append(s.FilesProcessed, path)
}

func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
