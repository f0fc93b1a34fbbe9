package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"camarc/internal/camarc"
	"camarc/internal/photostore"
)

// NewTestPhotoStore creates an in-memory photo store issuing sequential
// references ("id-1", "id-2", ...).
func NewTestPhotoStore() *photostore.MemoryStore {
	return photostore.NewMemoryStore("test", NewStubIDGenerator())
}

// FlakyPhotoStore wraps a PhotoStore and fails Get for chosen references.
type FlakyPhotoStore struct {
	camarc.PhotoStore

	mu      sync.Mutex
	failing map[string]error
	gets    int
}

func NewFlakyPhotoStore(inner camarc.PhotoStore) *FlakyPhotoStore {
	return &FlakyPhotoStore{PhotoStore: inner, failing: make(map[string]error)}
}

// FailGet makes every Get of reference return err.
func (s *FlakyPhotoStore) FailGet(reference string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("injected failure for %s", reference)
	}
	s.failing[reference] = err
}

func (s *FlakyPhotoStore) Get(ctx context.Context, reference string, w io.Writer) error {
	s.mu.Lock()
	s.gets++
	err := s.failing[reference]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.PhotoStore.Get(ctx, reference, w)
}

// Gets returns the number of Get calls.
func (s *FlakyPhotoStore) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}
