package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps artifacts as plain files in one directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// DefaultDir returns ~/.config/go-melody/artifacts
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-melody", "artifacts"), nil
}

// Dir returns the directory artifacts live in.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file path for an artifact name.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Save writes data atomically (temp file + rename).
func (s *FileStore) Save(ctx context.Context, name string, data []byte) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validName(name) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(name)); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return Ref(name), nil
}

// Fetch reads the artifact a ref names. Only the final path element is used.
func (s *FileStore) Fetch(ctx context.Context, ref Ref) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := ref.Name()
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, ref)
	}
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return data, nil
}

// Exists reports whether an artifact is present.
func (s *FileStore) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && !info.IsDir()
}
