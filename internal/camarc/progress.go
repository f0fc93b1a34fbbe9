package camarc

import (
	"context"
	"fmt"
)

// Progress is a completed/total snapshot of a running archive job.
type Progress struct {
	Completed int
	Total     int
}

func (p Progress) String() string {
	return fmt.Sprintf("Building zip: %d/%d", p.Completed, p.Total)
}

// ProgressHandle identifies the status message a reporter created in Begin.
type ProgressHandle string

// Outcome is the final result of an archive job.
type Outcome struct {
	Entries int
	Skipped []string
	Err     error
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("Archive failed: %v", o.Err)
	}
	if len(o.Skipped) > 0 {
		return fmt.Sprintf("Archive ready: %d photo(s), %d skipped", o.Entries, len(o.Skipped))
	}
	return fmt.Sprintf("Archive ready: %d photo(s)", o.Entries)
}

// ProgressReporter receives status from an archive job. Calls for one job
// are made sequentially from a single goroutine.
type ProgressReporter interface {
	// Begin creates the initial status message for a query, showing
	// initial (0 of the selection size).
	Begin(ctx context.Context, query string, initial Progress) (ProgressHandle, error)

	// Notify updates the status message. Delivery is best effort.
	Notify(ctx context.Context, h ProgressHandle, p Progress)

	// Finish reports the outcome, successful or not.
	Finish(ctx context.Context, h ProgressHandle, o Outcome)
}

// NopReporter discards progress.
type NopReporter struct{}

func (NopReporter) Begin(context.Context, string, Progress) (ProgressHandle, error) { return "", nil }
func (NopReporter) Notify(context.Context, ProgressHandle, Progress)                {}
func (NopReporter) Finish(context.Context, ProgressHandle, Outcome)                 {}
