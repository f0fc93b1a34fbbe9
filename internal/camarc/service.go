package camarc

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"camarc/internal/frame"
)

// DefaultCaptureFrequency keeps one frame in every DefaultCaptureFrequency.
const DefaultCaptureFrequency = 30

// CaptureOptions controls how decoded frames become photos.
type CaptureOptions struct {
	// Frequency keeps every Nth sample. Values below 1 keep every sample.
	Frequency int
	// Width and Height are used when a sample does not carry its own size.
	Width       int
	Height      int
	JPEGQuality int
}

// ArchiveOptions controls where and how archives are built.
type ArchiveOptions struct {
	WorkDir              string
	OnFetchError         FetchPolicy
	MaxConcurrentFetches int
	// Encrypt seals finished archives with the configured Encryptor.
	Encrypt bool
}

// SampleSource is the consumer side of the frame queue.
type SampleSource interface {
	Pop(ctx context.Context) (frame.Sample, error)
}

// CamarcService is the orchestration layer that ties capture, the photo
// index, query compilation, and archive building together.
type CamarcService struct {
	database  Database
	index     *PhotoIndex
	photos    PhotoStore
	dates     DateParser
	encryptor Encryptor
	logger    Logger
	clock     Clock
	idgen     IDGenerator

	capture CaptureOptions
	archive ArchiveOptions
}

// NewCamarcService creates a service and rebuilds the photo index from the
// database. A corrupt store fails with ErrCorruptIndex.
// encryptor may be nil when archives are not encrypted.
func NewCamarcService(database Database, photos PhotoStore, dates DateParser, encryptor Encryptor, logger Logger, clock Clock, idgen IDGenerator, capture CaptureOptions, archive ArchiveOptions) (*CamarcService, error) {
	if archive.Encrypt && encryptor == nil {
		return nil, fmt.Errorf("archive encryption enabled without an encryptor")
	}
	index, err := OpenPhotoIndex(database)
	if err != nil {
		return nil, fmt.Errorf("opening photo index: %w", err)
	}
	logger.Info("photo index loaded", "records", index.Len())

	return &CamarcService{
		database:  database,
		index:     index,
		photos:    photos,
		dates:     dates,
		encryptor: encryptor,
		logger:    logger,
		clock:     clock,
		idgen:     idgen,
		capture:   capture,
		archive:   archive,
	}, nil
}

// Index returns the photo index.
func (s *CamarcService) Index() *PhotoIndex {
	return s.index
}

// Capture decodes one sample, stores it as a JPEG photo, and indexes it at
// the current second.
func (s *CamarcService) Capture(ctx context.Context, sample frame.Sample) (PhotoRecord, error) {
	width, height := sample.Width, sample.Height
	if width == 0 || height == 0 {
		width, height = s.capture.Width, s.capture.Height
	}

	img, err := frame.DecodeI420(sample.Data, width, height)
	if err != nil {
		return PhotoRecord{}, fmt.Errorf("decoding sample %d: %w", sample.Seq, err)
	}
	data, err := frame.EncodeJPEG(img, s.capture.JPEGQuality)
	if err != nil {
		return PhotoRecord{}, err
	}

	reference, err := s.photos.Put(ctx, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return PhotoRecord{}, fmt.Errorf("uploading photo: %w", err)
	}

	rec, err := s.index.Insert(s.clock.Now(), reference)
	if err != nil {
		return PhotoRecord{}, fmt.Errorf("indexing photo: %w", err)
	}
	s.logger.Info("photo captured", "timestamp", FormatTimestamp(rec.Timestamp), "reference", reference, "bytes", len(data))
	return rec, nil
}

// RunCapture consumes samples until ctx is done or the source is closed,
// keeping every Nth sample. Failed captures are logged and skipped.
// Returns the number of photos stored.
func (s *CamarcService) RunCapture(ctx context.Context, src SampleSource) (int, error) {
	freq := s.capture.Frequency
	if freq < 1 {
		freq = 1
	}

	seen, stored := 0, 0
	for {
		sample, err := src.Pop(ctx)
		if err != nil {
			if errors.Is(err, frame.ErrQueueClosed) || ctx.Err() != nil {
				s.logger.Info("capture stopped", "samples", seen, "photos", stored)
				return stored, nil
			}
			return stored, fmt.Errorf("receiving sample: %w", err)
		}

		seen++
		if seen%freq != 0 {
			continue
		}

		if _, err := s.Capture(ctx, sample); err != nil {
			if errors.Is(err, frame.ErrMalformedSample) {
				s.logger.Warn("dropping malformed sample", "seq", sample.Seq, "error", err)
			} else {
				s.logger.Error("capture failed", "seq", sample.Seq, "error", err)
			}
			continue
		}
		stored++
	}
}
