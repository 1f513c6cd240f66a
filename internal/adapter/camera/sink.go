package camera

import (
	"image"
	"sync"

	"snapsight/internal/domain"
)

// VideoElement is a domain.VideoSink that presents the latest frame of the
// bound stream. Mirroring is a display flag only; Snapshot always returns
// the frame as the camera produced it.
type VideoElement struct {
	mu       sync.RWMutex
	stream   domain.MediaStream
	mirrored bool
}

var _ domain.VideoSink = (*VideoElement)(nil)

// NewVideoElement returns an empty sink.
func NewVideoElement() *VideoElement {
	return &VideoElement{}
}

func (v *VideoElement) Bind(stream domain.MediaStream) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stream = stream
}

func (v *VideoElement) Stream() domain.MediaStream {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stream
}

// VideoSize reports the intrinsic frame size, or 0x0 before the first frame.
func (v *VideoElement) VideoSize() (int, int) {
	frame := v.Snapshot()
	if frame == nil {
		return 0, 0
	}
	b := frame.Bounds()
	return b.Dx(), b.Dy()
}

func (v *VideoElement) Snapshot() image.Image {
	stream := v.Stream()
	if stream == nil {
		return nil
	}
	return stream.Frame()
}

func (v *VideoElement) SetMirrored(mirrored bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mirrored = mirrored
}

func (v *VideoElement) Mirrored() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.mirrored
}

// Live reports whether a stream is bound and at least one track still runs.
func (v *VideoElement) Live() bool {
	stream := v.Stream()
	if stream == nil {
		return false
	}
	for _, t := range stream.Tracks() {
		if !t.Stopped() {
			return true
		}
	}
	return false
}
