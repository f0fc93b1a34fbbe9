package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"camarc/internal/camarc"
	"camarc/internal/frame"
)

// DefaultIntervalMS is the replay pace of a FileSource.
const DefaultIntervalMS = 33

// FileSource replays raw planar 4:2:0 frames stored back to back in a file.
// It stands in for a camera when testing a deployment.
type FileSource struct {
	path     string
	width    int
	height   int
	interval time.Duration
	loop     bool
	clock    camarc.Clock
	logger   camarc.Logger
}

var _ camarc.FrameSource = (*FileSource)(nil)

// NewFileSource replays path one frame per interval. A zero interval
// replays as fast as the sink accepts.
func NewFileSource(path string, width, height int, interval time.Duration, loop bool, clock camarc.Clock, logger camarc.Logger) *FileSource {
	return &FileSource{
		path:     path,
		width:    width,
		height:   height,
		interval: interval,
		loop:     loop,
		clock:    clock,
		logger:   logger,
	}
}

// Run pushes every whole frame in the file to sink. A trailing partial frame
// is ignored. With loop set the file is replayed until ctx is done.
func (s *FileSource) Run(ctx context.Context, sink camarc.FrameSink) error {
	if s.width <= 0 || s.height <= 0 || s.width%2 != 0 || s.height%2 != 0 {
		return fmt.Errorf("invalid frame size %dx%d", s.width, s.height)
	}
	size := frame.SampleSize(s.width, s.height)

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("opening frame file: %w", err)
	}
	defer f.Close()

	var ticker *time.Ticker
	if s.interval > 0 {
		ticker = time.NewTicker(s.interval)
		defer ticker.Stop()
	}

	var seq uint64
	for {
		buf := make([]byte, size)
		_, err := io.ReadFull(f, buf)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Warn("ignoring partial frame at end of file", "path", s.path)
			}
			if !s.loop || seq == 0 {
				s.logger.Info("frame file replayed", "path", s.path, "frames", seq)
				return nil
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewinding frame file: %w", err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("reading frame file: %w", err)
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		seq++
		err = sink.Push(ctx, frame.Sample{
			Seq:      seq,
			Captured: s.clock.Now(),
			Width:    s.width,
			Height:   s.height,
			Data:     buf,
		})
		if err != nil {
			if errors.Is(err, frame.ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("delivering frame %d: %w", seq, err)
		}
	}
}
