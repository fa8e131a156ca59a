package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loanpurchase/backend/internal/application/export"
)

// Ensure LocalArtifactStore implements ArtifactStore
var _ export.ArtifactStore = (*LocalArtifactStore)(nil)

// LocalArtifactStore archives artifacts under a directory on disk. Writes go
// to a temporary file first so a reader never sees a partial artifact.
type LocalArtifactStore struct {
	root string
}

// NewLocalArtifactStore creates a store rooted at dir
func NewLocalArtifactStore(dir string) (*LocalArtifactStore, error) {
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalArtifactStore{root: abs}, nil
}

func (s *LocalArtifactStore) path(key string) (string, error) {
	if key == "" {
		return "", errors.New("storage key is required")
	}
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if p != s.root && !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("storage key %q escapes the storage directory", key)
	}
	return p, nil
}

// Put writes one artifact
func (s *LocalArtifactStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to commit artifact: %w", err)
	}
	return nil
}

// Get reads one artifact
func (s *LocalArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Exists checks if an artifact exists
func (s *LocalArtifactStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check artifact existence: %w", err)
	}
	return true, nil
}

// Root returns the storage directory
func (s *LocalArtifactStore) Root() string {
	return s.root
}
