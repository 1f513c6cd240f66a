package domain

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"
)

// FacingMode selects which physical camera supplies the feed.
type FacingMode string

const (
	FacingRear  FacingMode = "rear"
	FacingFront FacingMode = "front"
)

// ParseFacingMode accepts both the short names and the browser's
// "environment"/"user" spellings.
func ParseFacingMode(s string) (FacingMode, error) {
	switch s {
	case "rear", "back", "environment":
		return FacingRear, nil
	case "front", "user":
		return FacingFront, nil
	default:
		return "", fmt.Errorf("%w: facing mode %q (want rear or front)", ErrInvalidInput, s)
	}
}

// Opposite returns the other facing mode.
func (f FacingMode) Opposite() FacingMode {
	if f == FacingFront {
		return FacingRear
	}
	return FacingFront
}

// VideoConstraint is one getUserMedia video request.
type VideoConstraint struct {
	FacingMode FacingMode
	Exact      bool // no substitution allowed
	Any        bool // any video-capturing device; FacingMode is ignored
}

func (c VideoConstraint) String() string {
	switch {
	case c.Any:
		return "any"
	case c.Exact:
		return "exact:" + string(c.FacingMode)
	default:
		return "ideal:" + string(c.FacingMode)
	}
}

// MediaTrack is a single live track of a MediaStream.
type MediaTrack interface {
	Kind() string
	Label() string
	// Stop ends the track and releases the hardware it holds. Idempotent.
	Stop()
	Stopped() bool
}

// MediaStream is a live camera stream.
type MediaStream interface {
	ID() string
	Tracks() []MediaTrack
	// Frame returns the frame currently presented by the stream, or nil
	// before the first frame has decoded.
	Frame() image.Image
}

// MediaDevices negotiates camera access, the getUserMedia analogue.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c VideoConstraint) (MediaStream, error)
}

// VideoSink renders a live stream, the <video> element analogue.
type VideoSink interface {
	// Bind attaches stream to the sink. A nil stream detaches the current one.
	Bind(stream MediaStream)
	Stream() MediaStream
	// VideoSize reports the intrinsic size of the current frame, 0x0 when not ready.
	VideoSize() (width, height int)
	// Snapshot returns the unmirrored current frame.
	Snapshot() image.Image
	SetMirrored(mirrored bool)
	Mirrored() bool
}

// CameraSession is one active acquisition bound to a sink.
type CameraSession struct {
	ID         string
	FacingMode FacingMode
	Mirrored   bool
	Sink       VideoSink
	StartedAt  time.Time

	mu     sync.Mutex
	stream MediaStream
	active bool
}

// NewCameraSession creates an active session owning stream.
func NewCameraSession(id string, facing FacingMode, mirrored bool, stream MediaStream, sink VideoSink) *CameraSession {
	return &CameraSession{
		ID:         id,
		FacingMode: facing,
		Mirrored:   mirrored,
		Sink:       sink,
		StartedAt:  time.Now(),
		stream:     stream,
		active:     true,
	}
}

// Stream returns the owned stream, nil once released.
func (s *CameraSession) Stream() MediaStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// IsActive reports whether the session still holds its stream.
func (s *CameraSession) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Release stops every track and clears the stream reference. Safe to call
// more than once.
func (s *CameraSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		for _, t := range s.stream.Tracks() {
			t.Stop()
		}
	}
	s.stream = nil
	s.active = false
}
