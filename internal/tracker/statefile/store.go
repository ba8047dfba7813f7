// Package statefile implements tracker.StateStore on top of a single JSON
// document, rewritten in full on every mutation.
package statefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gandalf-gdac/erddap_sync/internal/tracker"
)

const filePerm = 0o644

// Store persists the tracker state in one JSON file.
type Store struct {
	path string
}

// New returns a store backed by the file at path. The file does not need to
// exist yet.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the state document.
func (s *Store) Path() string {
	return s.path
}

// Load reads and decodes the state document. A missing file yields an empty
// state; a present but undecodable or inconsistent file yields
// *tracker.CorruptStateError.
func (s *Store) Load() (tracker.State, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return tracker.State{}, nil
		}

		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state tracker.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, &tracker.CorruptStateError{Path: s.path, Err: err}
	}

	if err := validate(state); err != nil {
		return nil, &tracker.CorruptStateError{Path: s.path, Err: err}
	}

	return state, nil
}

// Save atomically replaces the state document: the new content is written to
// a temporary file in the same directory, synced, and renamed into place, so
// a crash mid-write never leaves a truncated document behind.
func (s *Store) Save(state tracker.State) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)

	tmp, err := os.CreateTemp(dir, ".sync-state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("failed to write temp state file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("failed to sync temp state file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Chmod(tmpName, filePerm); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to chmod temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

// validate enforces the record invariant: downloaded_files and the key set
// of file_details describe the same set of items.
func validate(state tracker.State) error {
	for id, rec := range state {
		if rec == nil {
			return fmt.Errorf("collection %s: null record", id)
		}

		if len(rec.DownloadedFiles) != len(rec.FileDetails) {
			return fmt.Errorf("collection %s: %d downloaded files but %d detail entries",
				id, len(rec.DownloadedFiles), len(rec.FileDetails))
		}

		for _, item := range rec.DownloadedFiles {
			if _, ok := rec.FileDetails[item]; !ok {
				return fmt.Errorf("collection %s: item %s has no detail entry", id, item)
			}
		}
	}

	return nil
}
