package testutil

import (
	"context"
	"fmt"
	"sync"

	"camarc/internal/camarc"
)

// RecordingReporter records every progress call. Safe for concurrent use.
type RecordingReporter struct {
	mu       sync.Mutex
	begins   []camarc.Progress
	queries  []string
	notifies []camarc.Progress
	outcomes []camarc.Outcome
	beginErr error
}

func NewRecordingReporter() *RecordingReporter {
	return &RecordingReporter{}
}

// FailBegin makes Begin return err.
func (r *RecordingReporter) FailBegin(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beginErr = err
}

func (r *RecordingReporter) Begin(ctx context.Context, query string, initial camarc.Progress) (camarc.ProgressHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.beginErr != nil {
		return "", r.beginErr
	}
	r.queries = append(r.queries, query)
	r.begins = append(r.begins, initial)
	return camarc.ProgressHandle(fmt.Sprintf("msg-%d", len(r.begins))), nil
}

func (r *RecordingReporter) Notify(ctx context.Context, h camarc.ProgressHandle, p camarc.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifies = append(r.notifies, p)
}

func (r *RecordingReporter) Finish(ctx context.Context, h camarc.ProgressHandle, o camarc.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

// Begins returns the initial progress passed to each Begin call.
func (r *RecordingReporter) Begins() []camarc.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]camarc.Progress(nil), r.begins...)
}

// Queries returns the query passed to each Begin call.
func (r *RecordingReporter) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

// Notifies returns every Notify value in call order.
func (r *RecordingReporter) Notifies() []camarc.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]camarc.Progress(nil), r.notifies...)
}

// Outcomes returns every Finish value in call order.
func (r *RecordingReporter) Outcomes() []camarc.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]camarc.Outcome(nil), r.outcomes...)
}

var _ camarc.ProgressReporter = (*RecordingReporter)(nil)
