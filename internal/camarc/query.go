package camarc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultPreviewLimit is the number of records Preview returns when no limit
// is given.
const DefaultPreviewLimit = 10

// Archive is a finished archive file in the work directory. The caller
// delivers it and then calls Remove.
type Archive struct {
	JobID     string
	Path      string
	Name      string
	Encrypted bool
	Entries   int
	Skipped   []string
}

// Remove deletes the archive file.
func (a *Archive) Remove() error {
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing archive: %w", err)
	}
	return nil
}

// Predicate compiles query against the current time.
func (s *CamarcService) Predicate(query string) Predicate {
	return ParsePredicate(query, s.clock.Now(), s.dates)
}

// Select returns every record matching query in ascending order.
func (s *CamarcService) Select(query string) []PhotoRecord {
	return s.index.Select(s.Predicate(query))
}

// Preview returns at most limit records matching query, oldest first,
// without fetching any photo bytes.
func (s *CamarcService) Preview(query string, limit int) []PhotoRecord {
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	records := s.Select(query)
	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

// FetchPhoto writes the photo for reference to w.
func (s *CamarcService) FetchPhoto(ctx context.Context, reference string, w io.Writer) error {
	if err := s.photos.Get(ctx, reference, w); err != nil {
		return fmt.Errorf("fetching photo %s: %w", reference, err)
	}
	return nil
}

func (s *CamarcService) fetchBytes(ctx context.Context, reference string) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.photos.Get(ctx, reference, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildArchive selects the records matching query and packs them into a zip
// file in the work directory, encrypting it when configured. The job is
// recorded in the history. On failure no file is left behind.
func (s *CamarcService) BuildArchive(ctx context.Context, query string, reporter ProgressReporter) (*Archive, error) {
	job := &ArchiveJobRecord{
		ID:        s.idgen.New(),
		Query:     query,
		StartedAt: s.clock.Now().UTC(),
		Status:    JobRunning,
	}

	selection := s.Select(query)
	job.Total = len(selection)
	if err := s.database.CreateArchiveJob(job); err != nil {
		return nil, fmt.Errorf("recording archive job: %w", err)
	}
	s.logger.Info("archive started", "job", job.ID, "query", query, "total", job.Total)

	archive, outcome, err := s.writeArchive(ctx, job, selection, reporter)

	job.FinishedAt = s.clock.Now().UTC()
	job.Completed = outcome.Entries
	job.Skipped = len(outcome.Skipped)
	switch {
	case err == nil:
		job.Status = JobSucceeded
	case errors.Is(err, ErrArchiveCancelled):
		job.Status = JobCancelled
		job.Error = err.Error()
	default:
		job.Status = JobFailed
		job.Error = err.Error()
	}
	if ferr := s.database.FinishArchiveJob(job); ferr != nil {
		s.logger.Error("recording archive job outcome failed", "job", job.ID, "error", ferr)
	}

	if err != nil {
		s.logger.Warn("archive failed", "job", job.ID, "error", err)
		return nil, err
	}
	s.logger.Info("archive ready", "job", job.ID, "entries", archive.Entries, "skipped", len(archive.Skipped), "path", archive.Path)
	return archive, nil
}

func (s *CamarcService) writeArchive(ctx context.Context, job *ArchiveJobRecord, selection []PhotoRecord, reporter ProgressReporter) (*Archive, Outcome, error) {
	workDir := s.archive.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return nil, Outcome{}, fmt.Errorf("creating work directory: %w", err)
	}

	name := job.ID + ".zip"
	if s.archive.Encrypt {
		name += ".age"
	}
	path := filepath.Join(workDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("creating archive file: %w", err)
	}

	archiveJob := &ArchiveJob{
		Query:                job.Query,
		Selection:            selection,
		Fetch:                s.fetchBytes,
		Reporter:             reporter,
		OnFetchError:         s.archive.OnFetchError,
		MaxConcurrentFetches: s.archive.MaxConcurrentFetches,
	}

	var outcome Outcome
	if s.archive.Encrypt {
		outcome, err = s.runEncrypted(ctx, archiveJob, f)
	} else {
		outcome, err = archiveJob.Run(ctx, f)
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing archive file: %w", cerr)
	}
	if err != nil {
		os.Remove(path)
		return nil, outcome, err
	}

	return &Archive{
		JobID:     job.ID,
		Path:      path,
		Name:      name,
		Encrypted: s.archive.Encrypt,
		Entries:   outcome.Entries,
		Skipped:   outcome.Skipped,
	}, outcome, nil
}

// runEncrypted streams the zip through the encryptor into w.
func (s *CamarcService) runEncrypted(ctx context.Context, job *ArchiveJob, w io.Writer) (Outcome, error) {
	pr, pw := io.Pipe()
	encDone := make(chan error, 1)
	go func() {
		err := s.encryptor.Encrypt(pr, w)
		pr.CloseWithError(err)
		encDone <- err
	}()

	outcome, err := job.Run(ctx, pw)
	pw.CloseWithError(err)
	if encErr := <-encDone; err == nil && encErr != nil {
		err = fmt.Errorf("encrypting archive: %w", encErr)
	}
	return outcome, err
}

// DecryptArchive decrypts an archive sealed by BuildArchive.
func (s *CamarcService) DecryptArchive(passphrase string, r io.Reader, w io.Writer) error {
	if s.encryptor == nil {
		return fmt.Errorf("no encryptor configured")
	}
	dec, err := s.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}
	if err := dec.Decrypt(r, w); err != nil {
		return fmt.Errorf("decrypting archive: %w", err)
	}
	return nil
}
