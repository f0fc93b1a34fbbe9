package photostore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"camarc/internal/camarc"
)

// MemoryStore keeps photos in memory. Safe for concurrent use.
type MemoryStore struct {
	name   string
	idgen  camarc.IDGenerator
	mu     sync.RWMutex
	photos map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(name string, idgen camarc.IDGenerator) *MemoryStore {
	return &MemoryStore{
		name:   name,
		idgen:  idgen,
		photos: make(map[string][]byte),
	}
}

func (m *MemoryStore) Put(ctx context.Context, r io.Reader, size int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read photo: %w", err)
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	ref := m.idgen.New()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos[ref] = data
	return ref, nil
}

func (m *MemoryStore) Get(ctx context.Context, reference string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.photos[reference]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", camarc.ErrPhotoNotFound, reference)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write photo: %w", err)
	}
	return nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(ctx context.Context) error {
	return nil
}

// Len returns the number of stored photos.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.photos)
}

var _ camarc.PhotoStore = (*MemoryStore)(nil)
