package camarc_test

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"camarc/internal/camarc"
	"camarc/internal/testutil"
)

// mapStore is an IndexStore over a map, with optional failures.
type mapStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	putErr  error
}

func newMapStore() *mapStore {
	return &mapStore{entries: make(map[string][]byte)}
}

func (s *mapStore) PutPhoto(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.entries[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *mapStore) ScanPhotos(fn func(key, value []byte) error) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.mu.Unlock()

	for _, k := range keys {
		if err := fn([]byte(k), s.entries[k]); err != nil {
			return err
		}
	}
	return nil
}

func matchAll() camarc.Predicate {
	return camarc.NewPredicate(camarc.Clause{Op: camarc.OpAfter, At: time.Unix(0, 0).Add(-time.Hour)})
}

func TestPhotoIndex_Insert(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("select returns ascending order", func(t *testing.T) {
		idx, err := camarc.OpenPhotoIndex(newMapStore())
		if err != nil {
			t.Fatalf("OpenPhotoIndex() error = %v", err)
		}
		for _, off := range []int{30, 10, 20} {
			if _, err := idx.Insert(base.Add(time.Duration(off)*time.Second), fmt.Sprintf("r%d", off)); err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
		}

		got := idx.Select(matchAll())
		want := []string{"r10", "r20", "r30"}
		if len(got) != len(want) {
			t.Fatalf("Select() returned %d records, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].Reference != want[i] {
				t.Errorf("record %d = %q, want %q", i, got[i].Reference, want[i])
			}
		}
	})

	t.Run("same second overwrites", func(t *testing.T) {
		idx, err := camarc.OpenPhotoIndex(newMapStore())
		if err != nil {
			t.Fatalf("OpenPhotoIndex() error = %v", err)
		}
		if _, err := idx.Insert(base.Add(100*time.Millisecond), "first"); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		rec, err := idx.Insert(base.Add(900*time.Millisecond), "second")
		if err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		if !rec.Timestamp.Equal(base) {
			t.Errorf("Insert() timestamp = %v, want truncated %v", rec.Timestamp, base)
		}

		got := idx.All()
		if len(got) != 1 || got[0].Reference != "second" {
			t.Errorf("All() = %+v, want only the second record", got)
		}
	})

	t.Run("normalizes to UTC", func(t *testing.T) {
		idx, err := camarc.OpenPhotoIndex(newMapStore())
		if err != nil {
			t.Fatalf("OpenPhotoIndex() error = %v", err)
		}
		local := base.In(time.FixedZone("EST", -5*60*60))
		rec, err := idx.Insert(local, "r")
		if err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
		if rec.Timestamp.Location() != time.UTC {
			t.Errorf("timestamp location = %v, want UTC", rec.Timestamp.Location())
		}
	})

	t.Run("store failure leaves index unchanged", func(t *testing.T) {
		store := newMapStore()
		idx, err := camarc.OpenPhotoIndex(store)
		if err != nil {
			t.Fatalf("OpenPhotoIndex() error = %v", err)
		}
		store.putErr = errors.New("disk full")

		if _, err := idx.Insert(base, "r"); err == nil {
			t.Fatal("Insert() expected error")
		}
		if idx.Len() != 0 {
			t.Errorf("Len() = %d, want 0", idx.Len())
		}
	})
}

func TestPhotoIndex_Rebuild(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("restores identical state from sqlite", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)
		idx, err := camarc.OpenPhotoIndex(db)
		if err != nil {
			t.Fatalf("OpenPhotoIndex() error = %v", err)
		}
		// Spans a byte boundary in the little-endian key so store order
		// differs from time order.
		for i, off := range []int{255, 0, 256, 1, 255} {
			if _, err := idx.Insert(base.Add(time.Duration(off)*time.Second), fmt.Sprintf("r%d", i)); err != nil {
				t.Fatalf("Insert() error = %v", err)
			}
		}
		before := idx.All()

		reopened, err := camarc.OpenPhotoIndex(db)
		if err != nil {
			t.Fatalf("OpenPhotoIndex() error = %v", err)
		}
		after := reopened.All()

		if len(after) != len(before) {
			t.Fatalf("rebuilt %d records, want %d", len(after), len(before))
		}
		for i := range before {
			if !after[i].Timestamp.Equal(before[i].Timestamp) || after[i].Reference != before[i].Reference {
				t.Errorf("record %d = %+v, want %+v", i, after[i], before[i])
			}
		}
		if len(before) != 4 || before[3].Reference != "r2" {
			t.Errorf("unexpected state before rebuild: %+v", before)
		}
	})

	t.Run("corrupt key is fatal", func(t *testing.T) {
		store := newMapStore()
		store.entries["short"] = []byte("r")

		_, err := camarc.OpenPhotoIndex(store)
		if !errors.Is(err, camarc.ErrCorruptIndex) {
			t.Errorf("OpenPhotoIndex() error = %v, want ErrCorruptIndex", err)
		}
	})

	t.Run("non UTF-8 reference is fatal", func(t *testing.T) {
		store := newMapStore()
		store.entries[string(camarc.EncodeKey(base))] = []byte{0xff, 0xfe}

		_, err := camarc.OpenPhotoIndex(store)
		if !errors.Is(err, camarc.ErrCorruptIndex) {
			t.Errorf("OpenPhotoIndex() error = %v, want ErrCorruptIndex", err)
		}
	})
}

func TestPhotoIndex_Select(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	idx, err := camarc.OpenPhotoIndex(newMapStore())
	if err != nil {
		t.Fatalf("OpenPhotoIndex() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := idx.Insert(base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("r%d", i)); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	t.Run("match nothing", func(t *testing.T) {
		if got := idx.Select(camarc.MatchNothing()); len(got) != 0 {
			t.Errorf("Select(nothing) = %+v, want empty", got)
		}
	})

	t.Run("open interval", func(t *testing.T) {
		p := camarc.NewPredicate(
			camarc.Clause{Op: camarc.OpAfter, At: base.Add(time.Minute)},
			camarc.Clause{Op: camarc.OpBefore, At: base.Add(4 * time.Minute)},
		)
		got := idx.Select(p)
		if len(got) != 2 || got[0].Reference != "r2" || got[1].Reference != "r3" {
			t.Errorf("Select() = %+v, want r2, r3", got)
		}
	})

	t.Run("result is a copy", func(t *testing.T) {
		got := idx.Select(matchAll())
		got[0].Reference = "mutated"
		if idx.All()[0].Reference != "r0" {
			t.Error("mutating the selection changed the index")
		}
	})
}

func TestPhotoIndex_Concurrent(t *testing.T) {
	idx, err := camarc.OpenPhotoIndex(newMapStore())
	if err != nil {
		t.Fatalf("OpenPhotoIndex() error = %v", err)
	}
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := idx.Insert(base.Add(time.Duration(w*50+i)*time.Second), "r"); err != nil {
					t.Errorf("Insert() error = %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				recs := idx.Select(matchAll())
				for j := 1; j < len(recs); j++ {
					if !recs[j-1].Timestamp.Before(recs[j].Timestamp) {
						t.Errorf("selection out of order at %d", j)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	if idx.Len() != 200 {
		t.Errorf("Len() = %d, want 200", idx.Len())
	}
}
