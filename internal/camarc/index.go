package camarc

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// PhotoIndex is the ordered, durably mirrored mapping from capture second to
// photo reference. At most one record exists per second; a later insert at
// the same second replaces the earlier one.
//
// One mutex guards both the in-memory slice and the durable write so the two
// never diverge.
type PhotoIndex struct {
	mu      sync.Mutex
	store   IndexStore
	records []PhotoRecord
}

// OpenPhotoIndex builds an index by replaying store.
// A record that cannot be decoded fails with ErrCorruptIndex.
func OpenPhotoIndex(store IndexStore) (*PhotoIndex, error) {
	idx := &PhotoIndex{store: store}
	if err := idx.Rebuild(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Rebuild replaces the in-memory state with the contents of the durable store.
// On error the previous state is kept.
func (idx *PhotoIndex) Rebuild() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var records []PhotoRecord
	err := idx.store.ScanPhotos(func(key, value []byte) error {
		rec, err := decodeRecord(key, value)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning photo store: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	// Keys are unique in the store, but keep the last one if a backend does
	// not enforce it.
	deduped := records[:0]
	for _, rec := range records {
		if n := len(deduped); n > 0 && deduped[n-1].Timestamp.Equal(rec.Timestamp) {
			deduped[n-1] = rec
			continue
		}
		deduped = append(deduped, rec)
	}
	idx.records = deduped
	return nil
}

// Insert writes the record to the durable store and then upserts it in memory.
// The timestamp is truncated to the second and converted to UTC.
func (idx *PhotoIndex) Insert(ts time.Time, reference string) (PhotoRecord, error) {
	rec := PhotoRecord{Timestamp: normalizeTimestamp(ts), Reference: reference}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.store.PutPhoto(EncodeKey(rec.Timestamp), []byte(reference)); err != nil {
		return PhotoRecord{}, fmt.Errorf("writing photo record: %w", err)
	}

	i := sort.Search(len(idx.records), func(i int) bool {
		return !idx.records[i].Timestamp.Before(rec.Timestamp)
	})
	if i < len(idx.records) && idx.records[i].Timestamp.Equal(rec.Timestamp) {
		idx.records[i] = rec
		return rec, nil
	}
	idx.records = append(idx.records, PhotoRecord{})
	copy(idx.records[i+1:], idx.records[i:])
	idx.records[i] = rec
	return rec, nil
}

// Select returns every record whose timestamp satisfies p, in ascending
// timestamp order. The predicate is evaluated outside the lock.
func (idx *PhotoIndex) Select(p Predicate) []PhotoRecord {
	if p.MatchesNothing() {
		return nil
	}
	snapshot := idx.snapshot()

	var out []PhotoRecord
	for _, rec := range snapshot {
		if p.Match(rec.Timestamp) {
			out = append(out, rec)
		}
	}
	return out
}

// All returns a copy of every record in ascending timestamp order.
func (idx *PhotoIndex) All() []PhotoRecord {
	return idx.snapshot()
}

// Len returns the number of records.
func (idx *PhotoIndex) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.records)
}

func (idx *PhotoIndex) snapshot() []PhotoRecord {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]PhotoRecord, len(idx.records))
	copy(out, idx.records)
	return out
}
