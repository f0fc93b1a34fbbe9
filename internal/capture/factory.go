package capture

import (
	"context"
	"fmt"
	"time"

	"camarc/internal/camarc"
	"camarc/internal/config"
	"camarc/internal/directory"
)

// NewFrameSourceFromConfig creates the frame source named by cfg.Source.
// An RTSP source without an explicit URL resolves its camera through dir.
func NewFrameSourceFromConfig(ctx context.Context, cfg *config.Config, dir camarc.Directory, clock camarc.Clock, logger camarc.Logger) (camarc.FrameSource, error) {
	src := cfg.Source
	switch src.Type {
	case "rtsp":
		url := src.RTSPURL
		if url == "" {
			if dir == nil {
				return nil, fmt.Errorf("rtsp source needs rtsp_url or a directory")
			}
			resolved, err := directory.ResolveRTSPURL(ctx, dir, src.Device, src.VerificationCode)
			if err != nil {
				return nil, fmt.Errorf("resolving camera: %w", err)
			}
			url = resolved
		}
		return NewRTSPSource(url, cfg.Capture.Width, cfg.Capture.Height, src.LatencyMS, logger), nil

	case "file":
		if src.FilePath == "" {
			return nil, fmt.Errorf("file source requires file_path")
		}
		interval := src.IntervalMS
		if interval <= 0 {
			interval = DefaultIntervalMS
		}
		return NewFileSource(src.FilePath, cfg.Capture.Width, cfg.Capture.Height,
			time.Duration(interval)*time.Millisecond, src.Loop, clock, logger), nil

	default:
		return nil, fmt.Errorf("unknown source type: %q", src.Type)
	}
}
