package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
	"snapsight/internal/infra/tracer"
)

// Acquirer negotiates camera access with constraint relaxation and keeps at
// most one active CameraSession per sink.
type Acquirer struct {
	devices domain.MediaDevices
	cfg     config.CameraConfig
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[domain.VideoSink]*domain.CameraSession
}

// NewAcquirer creates an Acquirer over the given media backend.
func NewAcquirer(devices domain.MediaDevices, cfg config.CameraConfig, logger *slog.Logger) *Acquirer {
	return &Acquirer{
		devices:  devices,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[domain.VideoSink]*domain.CameraSession),
	}
}

// Acquire releases whatever sink currently shows, then tries an exact
// facing constraint, a relaxed one, and finally any device when allowed.
// A permission denial ends the chain early.
func (a *Acquirer) Acquire(ctx context.Context, facing domain.FacingMode, sink domain.VideoSink) (*domain.CameraSession, error) {
	ctx, span := tracer.StartSpan(ctx, "camera.acquire",
		trace.WithAttributes(tracer.StringAttr("camera.facing", string(facing))),
	)
	a.mu.Lock()
	session, err := a.acquireLocked(ctx, facing, sink)
	a.mu.Unlock()
	tracer.End(span, err)
	return session, err
}

// Switch releases current and acquires the opposite facing mode. If that
// fails the previous facing mode is retried once; on success the restored
// session is returned together with the switch error.
func (a *Acquirer) Switch(ctx context.Context, current *domain.CameraSession, sink domain.VideoSink) (*domain.CameraSession, error) {
	if current == nil {
		return nil, domain.NewDomainError("Acquirer.Switch", domain.ErrNoSession, "")
	}
	previous := current.FacingMode
	target := previous.Opposite()

	ctx, span := tracer.StartSpan(ctx, "camera.switch",
		trace.WithAttributes(
			tracer.StringAttr("camera.from", string(previous)),
			tracer.StringAttr("camera.to", string(target)),
		),
	)

	a.mu.Lock()
	defer a.mu.Unlock()

	current.Release()
	session, err := a.acquireLocked(ctx, target, sink)
	if err == nil {
		tracer.End(span, nil)
		return session, nil
	}

	a.logger.Warn("camera switch failed, restoring previous facing",
		"from", previous, "to", target, "error", err)

	restored, rerr := a.acquireLocked(ctx, previous, sink)
	if rerr != nil {
		err = errors.Join(err, rerr)
		tracer.End(span, err)
		return nil, err
	}
	tracer.End(span, err)
	return restored, err
}

// Release stops the session bound to sink, if any, and detaches the sink.
func (a *Acquirer) Release(sink domain.VideoSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.releaseLocked(sink)
}

// Session returns the active session for sink, or nil.
func (a *Acquirer) Session(sink domain.VideoSink) *domain.CameraSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s := a.sessions[sink]; s != nil && s.IsActive() {
		return s
	}
	return nil
}

func (a *Acquirer) acquireLocked(ctx context.Context, facing domain.FacingMode, sink domain.VideoSink) (*domain.CameraSession, error) {
	a.releaseLocked(sink)

	var (
		attempts []error
		reason   error
	)
	for _, c := range a.constraints(facing) {
		stream, err := a.devices.GetUserMedia(ctx, c)
		if err == nil {
			mirrored := facing == domain.FacingFront && a.cfg.MirrorFront
			sink.Bind(stream)
			sink.SetMirrored(mirrored)

			session := domain.NewCameraSession(generateULID(time.Now()), facing, mirrored, stream, sink)
			a.sessions[sink] = session
			a.logger.Info("camera acquired",
				"session_id", session.ID,
				"facing", facing,
				"constraint", c.String(),
				"mirrored", mirrored,
			)
			return session, nil
		}

		reason = ClassifyMediaError(err)
		attempts = append(attempts, fmt.Errorf("%s: %w", c, err))
		a.logger.Debug("camera constraint rejected", "constraint", c.String(), "reason", reason, "error", err)

		if errors.Is(reason, domain.ErrPermissionDenied) || ctx.Err() != nil {
			break
		}
	}

	return nil, &domain.AcquisitionError{Facing: facing, Reason: reason, Attempts: attempts}
}

// releaseLocked stops every track the sink is showing, whether or not the
// stream came from a tracked session.
func (a *Acquirer) releaseLocked(sink domain.VideoSink) {
	if s := a.sessions[sink]; s != nil {
		s.Release()
		delete(a.sessions, sink)
		a.logger.Debug("camera released", "session_id", s.ID, "facing", s.FacingMode)
	}
	if stream := sink.Stream(); stream != nil {
		for _, t := range stream.Tracks() {
			t.Stop()
		}
	}
	sink.Bind(nil)
	sink.SetMirrored(false)
}

func (a *Acquirer) constraints(facing domain.FacingMode) []domain.VideoConstraint {
	cs := []domain.VideoConstraint{
		{FacingMode: facing, Exact: true},
		{FacingMode: facing},
	}
	if a.cfg.AllowAnyDevice {
		cs = append(cs, domain.VideoConstraint{FacingMode: facing, Any: true})
	}
	return cs
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
