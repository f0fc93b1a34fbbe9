package camarc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

var (
	// ErrCorruptIndex is returned when the durable store holds a record that
	// cannot be decoded. It is fatal at startup.
	ErrCorruptIndex = errors.New("corrupt photo index")

	// ErrPhotoNotFound is returned by photo stores for an unknown reference.
	ErrPhotoNotFound = errors.New("photo not found")
)

// KeySize is the length of an encoded index key.
const KeySize = 8

// PhotoRecord is one capture: a second-resolution UTC timestamp and the
// opaque reference issued by the photo store.
type PhotoRecord struct {
	Timestamp time.Time
	Reference string
}

// EntryName is the archive entry name for the record.
func (r PhotoRecord) EntryName() string {
	return FormatTimestamp(r.Timestamp) + ".jpg"
}

// FormatTimestamp renders t the way entry names and query clauses expect it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// normalizeTimestamp truncates to the second and converts to UTC.
func normalizeTimestamp(t time.Time) time.Time {
	return time.Unix(t.Unix(), 0).UTC()
}

// EncodeKey encodes t as 8-byte little-endian seconds since the epoch.
func EncodeKey(t time.Time) []byte {
	key := make([]byte, KeySize)
	binary.LittleEndian.PutUint64(key, uint64(t.Unix()))
	return key
}

// DecodeKey is the inverse of EncodeKey.
func DecodeKey(key []byte) (time.Time, error) {
	if len(key) != KeySize {
		return time.Time{}, fmt.Errorf("%w: key is %d bytes, want %d", ErrCorruptIndex, len(key), KeySize)
	}
	return time.Unix(int64(binary.LittleEndian.Uint64(key)), 0).UTC(), nil
}

// decodeRecord turns a stored key/value pair into a record.
func decodeRecord(key, value []byte) (PhotoRecord, error) {
	ts, err := DecodeKey(key)
	if err != nil {
		return PhotoRecord{}, err
	}
	if !utf8.Valid(value) {
		return PhotoRecord{}, fmt.Errorf("%w: reference at %s is not valid UTF-8", ErrCorruptIndex, FormatTimestamp(ts))
	}
	return PhotoRecord{Timestamp: ts, Reference: string(value)}, nil
}
