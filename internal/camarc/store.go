package camarc

import (
	"context"
	"io"
	"time"
)

// PhotoStore holds photo bytes and issues opaque references for them.
// Operations stream through io.Reader/io.Writer.
type PhotoStore interface {
	// Put stores size bytes read from r and returns the new reference.
	Put(ctx context.Context, r io.Reader, size int64) (string, error)

	// Get writes the photo for reference to w.
	// Returns ErrPhotoNotFound for an unknown reference.
	Get(ctx context.Context, reference string, w io.Writer) error

	// ValidateSetup verifies that the store is reachable and configured.
	ValidateSetup(ctx context.Context) error
}

// IndexStore is the durable key-value mirror of the photo index.
// Keys are EncodeKey timestamps, values are UTF-8 references.
type IndexStore interface {
	// PutPhoto writes one entry, replacing any value already stored at key.
	PutPhoto(key, value []byte) error

	// ScanPhotos calls fn for every stored entry. A non-nil error from fn
	// stops the scan and is returned.
	ScanPhotos(fn func(key, value []byte) error) error
}

// JobStatus is the lifecycle state of a recorded archive job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// ArchiveJobRecord is the persisted summary of one archive job.
type ArchiveJobRecord struct {
	ID         string
	Query      string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     JobStatus
	Total      int
	Completed  int
	Skipped    int
	Error      string
}

// Database provides durable storage for the photo index and job history.
type Database interface {
	IndexStore

	// CreateArchiveJob records a job as running.
	CreateArchiveJob(job *ArchiveJobRecord) error

	// FinishArchiveJob stores the final status and counters of a job.
	FinishArchiveJob(job *ArchiveJobRecord) error

	// ListArchiveJobs returns the most recent jobs, newest first.
	ListArchiveJobs(limit int) ([]*ArchiveJobRecord, error)

	// Close closes the database connection.
	Close() error
}
