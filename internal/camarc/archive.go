package camarc

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
)

// ErrArchiveCancelled is returned when an archive job's context ends before
// every fetch has completed.
var ErrArchiveCancelled = errors.New("archive cancelled")

// FetchPolicy decides what an archive job does when one photo cannot be
// fetched.
type FetchPolicy string

const (
	// FetchAbort fails the whole job on the first fetch error.
	FetchAbort FetchPolicy = "abort"
	// FetchSkip leaves the photo out, records its reference, and continues.
	FetchSkip FetchPolicy = "skip"
)

// ParseFetchPolicy maps a config string to a policy. Empty means abort.
func ParseFetchPolicy(s string) (FetchPolicy, error) {
	switch FetchPolicy(s) {
	case "", FetchAbort:
		return FetchAbort, nil
	case FetchSkip:
		return FetchSkip, nil
	default:
		return "", fmt.Errorf("unknown fetch error policy: %q", s)
	}
}

// FetchFunc retrieves the bytes of one photo.
type FetchFunc func(ctx context.Context, reference string) ([]byte, error)

// ArchiveJob fetches a selection concurrently and packs it into a zip
// archive in completion order.
type ArchiveJob struct {
	Query     string
	Selection []PhotoRecord
	Fetch     FetchFunc
	Reporter  ProgressReporter

	// OnFetchError defaults to FetchAbort.
	OnFetchError FetchPolicy
	// MaxConcurrentFetches caps in-flight fetches. Zero means one per record.
	MaxConcurrentFetches int
}

type fetchResult struct {
	record PhotoRecord
	data   []byte
	err    error
}

// Run writes the archive to w and reports progress: Begin with 0/N, one
// Notify per completed record ending at N/N, then Finish. Finish is called
// on failure as well. When Run returns an error, whatever was written to w
// must be discarded.
func (j *ArchiveJob) Run(ctx context.Context, w io.Writer) (Outcome, error) {
	reporter := j.Reporter
	if reporter == nil {
		reporter = NopReporter{}
	}
	total := len(j.Selection)

	handle, err := reporter.Begin(ctx, j.Query, Progress{Completed: 0, Total: total})
	if err != nil {
		return Outcome{Err: err}, fmt.Errorf("starting progress report: %w", err)
	}

	completions := make(chan struct{}, total)
	actorDone := make(chan struct{})
	go func() {
		defer close(actorDone)
		completed := 0
		for range completions {
			completed++
			reporter.Notify(ctx, handle, Progress{Completed: completed, Total: total})
		}
	}()

	outcome := j.assemble(ctx, w, completions)
	close(completions)
	<-actorDone

	reporter.Finish(context.WithoutCancel(ctx), handle, outcome)
	return outcome, outcome.Err
}

// assemble runs the fetches and writes entries as results arrive.
func (j *ArchiveJob) assemble(ctx context.Context, w io.Writer, completions chan<- struct{}) Outcome {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan fetchResult, len(j.Selection))
	launched := j.launch(fetchCtx, results)
	// Every launched fetch must finish before returning so none outlives
	// the job.
	defer func() {
		cancel()
		<-launched
	}()

	zw := zip.NewWriter(w)
	var outcome Outcome
	for remaining := len(j.Selection); remaining > 0; remaining-- {
		var res fetchResult
		select {
		case <-ctx.Done():
			outcome.Err = fmt.Errorf("%w: %v", ErrArchiveCancelled, ctx.Err())
			return outcome
		case res = <-results:
		}

		if res.err != nil {
			if ctx.Err() != nil {
				outcome.Err = fmt.Errorf("%w: %v", ErrArchiveCancelled, ctx.Err())
				return outcome
			}
			if j.OnFetchError != FetchSkip {
				outcome.Err = fmt.Errorf("fetching photo %s: %w", res.record.Reference, res.err)
				return outcome
			}
			outcome.Skipped = append(outcome.Skipped, res.record.Reference)
		} else {
			if err := writeEntry(zw, res.record, res.data); err != nil {
				outcome.Err = err
				return outcome
			}
			outcome.Entries++
		}
		completions <- struct{}{}

		if ctx.Err() != nil {
			outcome.Err = fmt.Errorf("%w: %v", ErrArchiveCancelled, ctx.Err())
			return outcome
		}
	}

	if err := zw.Close(); err != nil {
		outcome.Err = fmt.Errorf("finalizing archive: %w", err)
	}
	return outcome
}

// launch starts one fetch per record and closes the returned channel once
// all of them have returned.
func (j *ArchiveJob) launch(ctx context.Context, results chan<- fetchResult) <-chan struct{} {
	done := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	if j.MaxConcurrentFetches > 0 {
		g.SetLimit(j.MaxConcurrentFetches)
	}
	abort := j.OnFetchError != FetchSkip

	go func() {
		defer close(done)
		for _, rec := range j.Selection {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					results <- fetchResult{record: rec, err: err}
					return err
				}
				data, err := j.Fetch(gctx, rec.Reference)
				results <- fetchResult{record: rec, data: data, err: err}
				if err != nil && abort {
					return err
				}
				return nil
			})
		}
		_ = g.Wait()
	}()
	return done
}

func writeEntry(zw *zip.Writer, rec PhotoRecord, data []byte) error {
	f, err := zw.CreateHeader(&zip.FileHeader{
		Name:     rec.EntryName(),
		Method:   zip.Deflate,
		Modified: rec.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("creating archive entry %s: %w", rec.EntryName(), err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing archive entry %s: %w", rec.EntryName(), err)
	}
	return nil
}
