package licclient

// License file storage for offline validation.
// Stores the signed license as JSON in a well-known location.

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const fileName = "license.json"

// DefaultDir returns the directory where license files are stored.
// On Windows: C:\ProgramData\<company>\<product>
// On Linux/macOS: /var/lib/<company>/<product>
func DefaultDir(company, product string) string {
	basePath := "/var/lib"
	if runtime.GOOS == "windows" {
		basePath = os.Getenv("ProgramData")
		if basePath == "" {
			basePath = `C:\ProgramData`
		}
	}
	return filepath.Join(basePath, company, product)
}

// Store keeps the last signed license the server returned.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Path() string {
	return filepath.Join(s.dir, fileName)
}

// Save writes lic, creating the directory if it doesn't exist.
func (s *Store) Save(lic *SignedLicense) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(lic, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path())
}

// Load returns the stored license, or nil and no error if none was saved.
func (s *Store) Load() (*SignedLicense, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var lic SignedLicense
	if err := json.Unmarshal(data, &lic); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.Path(), err)
	}
	return &lic, nil
}

func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Delete removes the license file if it exists.
func (s *Store) Delete() error {
	err := os.Remove(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
