package capture

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"camarc/internal/camarc"
	"camarc/internal/frame"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// DefaultLatencyMS is the rtspsrc jitter buffer size.
const DefaultLatencyMS = 200

// RTSPSource decodes an H.264 RTSP stream with GStreamer and delivers
// planar 4:2:0 samples scaled to the configured size.
type RTSPSource struct {
	url       string
	width     int
	height    int
	latencyMS int
	logger    camarc.Logger

	seq     atomic.Uint64
	dropped atomic.Uint64
}

var _ camarc.FrameSource = (*RTSPSource)(nil)

func NewRTSPSource(url string, width, height, latencyMS int, logger camarc.Logger) *RTSPSource {
	if latencyMS <= 0 {
		latencyMS = DefaultLatencyMS
	}
	return &RTSPSource{url: url, width: width, height: height, latencyMS: latencyMS, logger: logger}
}

// Frames returns the number of samples delivered so far.
func (s *RTSPSource) Frames() uint64 {
	return s.seq.Load()
}

// Run plays the pipeline until ctx is done, the stream ends, or the
// pipeline reports an error.
func (s *RTSPSource) Run(ctx context.Context, sink camarc.FrameSink) error {
	gst.Init(nil)

	pipeline, err := s.buildPipeline(ctx, sink)
	if err != nil {
		return err
	}
	defer func() {
		if err := pipeline.SetState(gst.StateNull); err != nil {
			s.logger.Warn("stopping pipeline failed", "error", err)
		}
	}()

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}
	s.logger.Info("rtsp capture started", "width", s.width, "height", s.height, "latency_ms", s.latencyMS)

	bus := pipeline.GetPipelineBus()
	for {
		if ctx.Err() != nil {
			s.logger.Info("rtsp capture stopped", "frames", s.seq.Load(), "dropped", s.dropped.Load())
			return nil
		}
		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			s.logger.Info("rtsp stream ended", "frames", s.seq.Load())
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			s.logger.Error("pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			return fmt.Errorf("pipeline error: %s", gerr.Error())
		}
	}
}

// buildPipeline assembles
//
//	rtspsrc → rtph264depay → avdec_h264 → videorate → videoconvert →
//	videoscale → capsfilter(I420) → appsink
func (s *RTSPSource) buildPipeline(ctx context.Context, sink camarc.FrameSink) (*gst.Pipeline, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}

	src, err := gst.NewElement("rtspsrc")
	if err != nil {
		return nil, fmt.Errorf("creating rtspsrc: %w", err)
	}
	src.SetProperty("location", s.url)
	src.SetProperty("latency", s.latencyMS)
	src.SetProperty("protocols", 4) // TCP

	elements := make([]*gst.Element, 0, 6)
	for _, name := range []string{"rtph264depay", "avdec_h264", "videorate", "videoconvert", "videoscale", "capsfilter"} {
		el, err := gst.NewElement(name)
		if err != nil {
			return nil, fmt.Errorf("creating %s: %w", name, err)
		}
		elements = append(elements, el)
	}
	depay, capsfilter := elements[0], elements[5]
	elements[2].SetProperty("drop-only", true)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("video/x-raw,format=I420,width=%d,height=%d", s.width, s.height),
	))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("creating appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(as *app.Sink) gst.FlowReturn {
			return s.onSample(ctx, as, sink)
		},
	})

	all := append([]*gst.Element{src}, elements...)
	all = append(all, appsink.Element)
	if err := pipeline.AddMany(all...); err != nil {
		return nil, fmt.Errorf("adding pipeline elements: %w", err)
	}
	linked := append(elements, appsink.Element)
	if err := gst.ElementLinkMany(linked...); err != nil {
		return nil, fmt.Errorf("linking pipeline elements: %w", err)
	}

	// rtspsrc pads appear once the stream is negotiated.
	if _, err := src.Connect("pad-added", func(_ *gst.Element, pad *gst.Pad) {
		sinkPad := depay.GetStaticPad("sink")
		if sinkPad == nil || sinkPad.IsLinked() {
			return
		}
		if ret := pad.Link(sinkPad); ret != gst.PadLinkOK {
			s.logger.Error("linking rtsp pad failed", "pad", pad.GetName(), "result", ret)
		}
	}); err != nil {
		return nil, fmt.Errorf("connecting pad-added: %w", err)
	}

	return pipeline, nil
}

// onSample copies one decoded buffer into the sink. The buffer is reused by
// GStreamer after the callback returns.
func (s *RTSPSource) onSample(ctx context.Context, as *app.Sink, sink camarc.FrameSink) gst.FlowReturn {
	sample := as.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	data := buffer.Map(gst.MapRead).Bytes()
	copied := make([]byte, len(data))
	copy(copied, data)
	buffer.Unmap()
	if len(copied) == 0 {
		return gst.FlowOK
	}

	err := sink.Push(ctx, frame.Sample{
		Seq:      s.seq.Add(1),
		Captured: time.Now(),
		Width:    s.width,
		Height:   s.height,
		Data:     copied,
	})
	switch {
	case err == nil:
		return gst.FlowOK
	case errors.Is(err, frame.ErrQueueClosed), ctx.Err() != nil:
		return gst.FlowEOS
	default:
		s.dropped.Add(1)
		s.logger.Warn("dropping sample", "error", err)
		return gst.FlowOK
	}
}
