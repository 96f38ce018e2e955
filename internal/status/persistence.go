// Package status records the outcome of the most recent run on disk.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Store defines the interface for run status persistence
type Store interface {
	// Save writes the run record to persistent storage.
	Save(status *RunStatus) error

	// Load reads the last run record. Returns nil without error when no
	// run has been recorded yet.
	Load() (*RunStatus, error)
}

// fileStore implements Store using a single JSON file.
type fileStore struct {
	path string
}

var _ Store = (*fileStore)(nil)

// NewFileStore creates a file-based status store at the given path.
func NewFileStore(path string) Store {
	return &fileStore{path: path}
}

// DefaultPath returns the status file location under the user's state
// directory.
func DefaultPath() (string, error) {
	return xdg.StateFile("schema-sync/status.json")
}

// Save writes the run record with a temp file and rename so readers never
// observe a partial write.
func (f *fileStore) Save(status *RunStatus) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0750); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status data: %w", err)
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file: %w", err)
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file: %w", err)
	}

	return nil
}

// Load reads the last run record from disk.
func (f *fileStore) Load() (*RunStatus, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read status file: %w", err)
	}

	var status RunStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status data: %w", err)
	}

	return &status, nil
}
