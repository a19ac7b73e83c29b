package canhoto

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStore defines the interface for backup file storage
type FileStore interface {
	// WriteFile saves a file and returns the path/filename
	WriteFile(filename string, data []byte) (string, error)

	// ReadFile retrieves a file by path
	ReadFile(path string) ([]byte, error)

	// Remove deletes a file
	Remove(path string) error
}

// DirStore implements the FileStore interface over a local directory
type DirStore struct {
	basePath string
}

// NewDirStore creates a new DirStore instance
func NewDirStore(basePath string) (*DirStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	return &DirStore{
		basePath: basePath,
	}, nil
}

// WriteFile saves a file under the backup directory
func (d *DirStore) WriteFile(filename string, data []byte) (string, error) {
	path := filepath.Join(d.basePath, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filepath.Base(filename), nil
}

// ReadFile retrieves a file from the backup directory
func (d *DirStore) ReadFile(path string) ([]byte, error) {
	fullPath := filepath.Join(d.basePath, filepath.Base(path))
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Remove deletes a file from the backup directory
func (d *DirStore) Remove(path string) error {
	fullPath := filepath.Join(d.basePath, filepath.Base(path))
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
