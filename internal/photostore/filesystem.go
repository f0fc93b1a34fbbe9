package photostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"camarc/internal/camarc"
)

// FileSystemStore keeps each photo as <root>/<reference>.jpg.
// Writes go through a temp file and rename so a crash never leaves a
// partial photo under a valid reference.
type FileSystemStore struct {
	name  string
	root  string
	idgen camarc.IDGenerator
}

// NewFileSystemStore creates the root directory if needed.
func NewFileSystemStore(name, root string, idgen camarc.IDGenerator) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create photo directory: %w", err)
	}
	return &FileSystemStore{name: name, root: root, idgen: idgen}, nil
}

func (s *FileSystemStore) Put(ctx context.Context, r io.Reader, size int64) (string, error) {
	ref := s.idgen.New()
	if err := validateReference(ref); err != nil {
		return "", err
	}
	if err := s.writeFile(s.path(ref), r, size); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *FileSystemStore) Get(ctx context.Context, reference string, w io.Writer) error {
	if err := validateReference(reference); err != nil {
		return err
	}

	f, err := os.Open(s.path(reference))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", camarc.ErrPhotoNotFound, reference)
		}
		return fmt.Errorf("failed to open photo: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read photo: %w", err)
	}
	return nil
}

// ValidateSetup checks that the root exists and is a directory.
func (s *FileSystemStore) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("photo root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("photo root is not a directory: %s", s.root)
	}
	return nil
}

func (s *FileSystemStore) path(ref string) string {
	return filepath.Join(s.root, ref+photoExt)
}

func (s *FileSystemStore) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write photo: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ camarc.PhotoStore = (*FileSystemStore)(nil)
