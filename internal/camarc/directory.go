package camarc

import (
	"context"
	"fmt"

	"camarc/internal/frame"
)

// Device is a camera known to the directory service.
type Device struct {
	Name    string
	Address string
}

// Session is an authenticated directory session.
type Session struct {
	Account string
	Token   string
}

// Directory authenticates accounts and lists their cameras.
type Directory interface {
	Authenticate(ctx context.Context, account, password string) (*Session, error)
	ListDevices(ctx context.Context, session *Session) ([]Device, error)
}

// FindDevice returns the device called name, or the first device when name
// is empty.
func FindDevice(devices []Device, name string) (Device, error) {
	if len(devices) == 0 {
		return Device{}, fmt.Errorf("no devices available")
	}
	if name == "" {
		return devices[0], nil
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("device not found: %s", name)
}

// RTSPURL builds the camera's stream URL from its address and verification code.
func RTSPURL(address, verificationCode string) string {
	return fmt.Sprintf("rtsp://admin:%s@%s:554/h264_stream", verificationCode, address)
}

// FrameSink accepts raw samples from a frame source. *frame.Queue is one.
type FrameSink interface {
	Push(ctx context.Context, s frame.Sample) error
}

// FrameSource delivers raw planar 4:2:0 samples until ctx is done or the
// source ends.
type FrameSource interface {
	Run(ctx context.Context, sink FrameSink) error
}
