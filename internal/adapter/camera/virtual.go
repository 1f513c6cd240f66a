package camera

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"snapsight/internal/domain"
)

// VirtualCamera is one simulated physical camera.
type VirtualCamera struct {
	Label  string
	Facing domain.FacingMode
	Source FrameSource
	// Warmup delays the first decoded frame after the track starts.
	Warmup time.Duration
}

// PermissionPrompt asks the user for camera access. It runs at most once
// per VirtualDevices; the answer is remembered.
type PermissionPrompt func(ctx context.Context) (granted bool, err error)

// VirtualOption configures VirtualDevices.
type VirtualOption func(*VirtualDevices)

// WithPermissionPrompt replaces the default always-grant prompt.
func WithPermissionPrompt(p PermissionPrompt) VirtualOption {
	return func(v *VirtualDevices) { v.prompt = p }
}

// WithVirtualLogger sets the logger.
func WithVirtualLogger(l *slog.Logger) VirtualOption {
	return func(v *VirtualDevices) { v.logger = l }
}

// VirtualDevices implements domain.MediaDevices over simulated cameras.
// Each camera can be held by one live track at a time.
type VirtualDevices struct {
	cameras []*VirtualCamera
	prompt  PermissionPrompt
	logger  *slog.Logger

	mu      sync.Mutex
	decided bool
	granted bool
	prompts int
	holders map[*VirtualCamera]*virtualTrack
	seq     atomic.Int64
}

var _ domain.MediaDevices = (*VirtualDevices)(nil)

// NewVirtualDevices creates a backend with the given cameras.
func NewVirtualDevices(cameras []VirtualCamera, opts ...VirtualOption) *VirtualDevices {
	v := &VirtualDevices{
		prompt:  func(context.Context) (bool, error) { return true, nil },
		logger:  slog.Default(),
		holders: make(map[*VirtualCamera]*virtualTrack),
	}
	for i := range cameras {
		c := cameras[i]
		v.cameras = append(v.cameras, &c)
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// DefaultCameras returns a rear and a front camera over the given sources.
func DefaultCameras(rear, front FrameSource) []VirtualCamera {
	return []VirtualCamera{
		{Label: "Back Camera", Facing: domain.FacingRear, Source: rear},
		{Label: "Front Camera", Facing: domain.FacingFront, Source: front},
	}
}

// PromptCount reports how many times the permission prompt ran.
func (v *VirtualDevices) PromptCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.prompts
}

// InUse reports whether any camera with the given facing is held.
func (v *VirtualDevices) InUse(facing domain.FacingMode) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for cam := range v.holders {
		if cam.Facing == facing {
			return true
		}
	}
	return false
}

// GetUserMedia resolves c against the simulated cameras.
func (v *VirtualDevices) GetUserMedia(ctx context.Context, c domain.VideoConstraint) (domain.MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &MediaError{Name: "AbortError", Message: err.Error()}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.decided {
		v.prompts++
		granted, err := v.prompt(ctx)
		if err != nil {
			return nil, &MediaError{Name: "AbortError", Message: fmt.Sprintf("permission prompt: %v", err)}
		}
		v.decided, v.granted = true, granted
		v.logger.Debug("camera permission decided", "granted", granted)
	}
	if !v.granted {
		return nil, &MediaError{Name: "NotAllowedError", Message: "Permission denied"}
	}
	if len(v.cameras) == 0 {
		return nil, &MediaError{Name: "NotFoundError", Message: "Requested device not found"}
	}

	candidates := v.candidates(c)
	if len(candidates) == 0 {
		return nil, &MediaError{Name: "OverconstrainedError", Message: "no camera satisfies " + c.String(), Constraint: "facingMode"}
	}
	for _, cam := range candidates {
		if _, held := v.holders[cam]; held {
			continue
		}
		track := &virtualTrack{devices: v, camera: cam, started: time.Now()}
		v.holders[cam] = track
		return &virtualStream{id: fmt.Sprintf("virtual-%d", v.seq.Add(1)), track: track}, nil
	}
	return nil, &MediaError{Name: "NotReadableError", Message: "Could not start video source"}
}

// candidates orders cameras for c. Exact keeps only matches; ideal puts
// matches first; any takes every camera in declaration order.
func (v *VirtualDevices) candidates(c domain.VideoConstraint) []*VirtualCamera {
	if c.Any {
		return v.cameras
	}
	var match, rest []*VirtualCamera
	for _, cam := range v.cameras {
		if cam.Facing == c.FacingMode {
			match = append(match, cam)
		} else {
			rest = append(rest, cam)
		}
	}
	if c.Exact {
		return match
	}
	return append(match, rest...)
}

func (v *VirtualDevices) releaseTrack(t *virtualTrack) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.holders[t.camera] == t {
		delete(v.holders, t.camera)
	}
}

type virtualTrack struct {
	devices *VirtualDevices
	camera  *VirtualCamera
	started time.Time
	stopped atomic.Bool
}

func (t *virtualTrack) Kind() string  { return "video" }
func (t *virtualTrack) Label() string { return t.camera.Label }

func (t *virtualTrack) Stop() {
	if t.stopped.CompareAndSwap(false, true) {
		t.devices.releaseTrack(t)
	}
}

func (t *virtualTrack) Stopped() bool { return t.stopped.Load() }

type virtualStream struct {
	id    string
	track *virtualTrack
}

func (s *virtualStream) ID() string { return s.id }

func (s *virtualStream) Tracks() []domain.MediaTrack {
	return []domain.MediaTrack{s.track}
}

func (s *virtualStream) Frame() image.Image {
	t := s.track
	if t.Stopped() || t.camera.Source == nil {
		return nil
	}
	if time.Since(t.started) < t.camera.Warmup {
		return nil
	}
	return t.camera.Source.Frame()
}
