package settings

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend persists encoded settings.
type Backend interface {
	Save(data []byte) error
	Load() ([]byte, error)
}

// FileBackend stores settings in a single file.
type FileBackend struct {
	Path string
}

// NewFileBackend creates a file backend. An empty path disables persistence.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

// Save writes data atomically.
func (b *FileBackend) Save(data []byte) error {
	if b.Path == "" {
		return nil
	}

	dir := filepath.Dir(b.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, b.Path); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// Load reads the file. A missing file yields no data and no error.
func (b *FileBackend) Load() ([]byte, error) {
	if b.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

var _ Backend = (*FileBackend)(nil)
