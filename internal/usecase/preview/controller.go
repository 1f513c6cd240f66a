// Package preview drives the capture-and-describe surface: it owns the live
// camera session, turns a snap into an analysis, and keeps a user-facing
// status that never tears down the feed on failure.
package preview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
)

// Acquirer owns camera hardware for a sink.
type Acquirer interface {
	Acquire(ctx context.Context, facing domain.FacingMode, sink domain.VideoSink) (*domain.CameraSession, error)
	Switch(ctx context.Context, current *domain.CameraSession, sink domain.VideoSink) (*domain.CameraSession, error)
	Release(sink domain.VideoSink)
}

// Capturer turns the live frame into an encoded still.
type Capturer interface {
	Capture(ctx context.Context, session *domain.CameraSession) (*domain.CaptureResult, error)
}

// State is the coarse phase shown to the user.
type State string

const (
	StateIdle      State = "idle"
	StateLive      State = "live"
	StateCapturing State = "capturing"
	StateAnalyzing State = "analyzing"
	StateDone      State = "done"
	StateError     State = "error"
)

// Status messages.
const (
	MsgIdle             = "Camera off"
	MsgLive             = "Ready"
	MsgCapturing        = "Capturing..."
	MsgAnalyzing        = "Analyzing..."
	MsgCameraFailed     = "Camera unavailable"
	MsgServiceBusy      = "Service busy, try a smaller image or retry"
	MsgStarting         = "Camera is still starting"
	MsgEncodingFailed   = "Could not encode the frame"
	MsgNothingToRetry   = "nothing to retry"
	MsgStartCameraFirst = "start the camera first"
)

// Status is a snapshot of what the surface shows.
type Status struct {
	State     State
	Message   string
	Facing    domain.FacingMode
	Mirrored  bool
	Live      bool
	CanRetry  bool
	Analysis  *domain.AnalysisResponse
	Err       error
	UpdatedAt time.Time
}

// Option customises a Controller.
type Option func(*Controller)

// WithStatusListener registers fn to receive every status change. It is
// called outside the controller lock.
func WithStatusListener(fn func(Status)) Option {
	return func(c *Controller) { c.listener = fn }
}

// Controller coordinates acquisition, capture and analysis for one sink.
type Controller struct {
	acquirer Acquirer
	capturer Capturer
	analyzer domain.Analyzer
	sink     domain.VideoSink
	overlap  string
	listener func(Status)
	logger   *slog.Logger

	mu      sync.Mutex
	session *domain.CameraSession
	status  Status
	gen     uint64 // bumped by every Snap and by Stop
	pending bool
	retry   func(context.Context) error
}

// NewController creates a Controller. overlap is config.OverlapDisallow or
// config.OverlapSupersede and is fixed for the controller's lifetime.
func NewController(acq Acquirer, capt Capturer, analyzer domain.Analyzer, sink domain.VideoSink, overlap string, logger *slog.Logger, opts ...Option) *Controller {
	if overlap != config.OverlapSupersede {
		overlap = config.OverlapDisallow
	}
	c := &Controller{
		acquirer: acq,
		capturer: capt,
		analyzer: analyzer,
		sink:     sink,
		overlap:  overlap,
		logger:   logger,
		status:   Status{State: StateIdle, Message: MsgIdle, UpdatedAt: time.Now()},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Session returns the live session, or nil.
func (c *Controller) Session() *domain.CameraSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Start acquires the camera for facing and shows its feed.
func (c *Controller) Start(ctx context.Context, facing domain.FacingMode) error {
	session, err := c.acquirer.Acquire(ctx, facing, c.sink)

	c.mu.Lock()
	if err != nil {
		c.session = nil
		c.retry = func(ctx context.Context) error { return c.Start(ctx, facing) }
		c.failLocked(err)
	} else {
		c.session = session
		c.retry = nil
		c.setLocked(StateLive, MsgLive, nil, false)
		c.status.Analysis = nil
	}
	st := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(st)
	if err != nil {
		c.logger.Warn("camera start failed", "facing", facing, "error", err)
		return err
	}
	c.logger.Info("camera started", "facing", facing, "session_id", session.ID, "mirrored", session.Mirrored)
	return nil
}

// Switch flips to the opposite camera. If the switch fails but the previous
// camera is restored, the feed stays live and the error is still returned.
func (c *Controller) Switch(ctx context.Context) error {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()
	if current == nil {
		return domain.NewDomainError("Controller.Switch", domain.ErrNoSession, MsgStartCameraFirst)
	}
	target := current.FacingMode.Opposite()

	session, err := c.acquirer.Switch(ctx, current, c.sink)

	c.mu.Lock()
	c.session = session
	switch {
	case err == nil:
		c.retry = nil
		c.setLocked(StateLive, MsgLive, nil, false)
	case session != nil:
		c.retry = c.Switch
		c.failLocked(err)
	default:
		c.retry = func(ctx context.Context) error { return c.Start(ctx, target) }
		c.failLocked(err)
	}
	st := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(st)
	if err != nil {
		c.logger.Warn("camera switch failed", "to", target, "restored", session != nil, "error", err)
	}
	return err
}

// Snap captures the current frame and analyzes it. Under the disallow
// policy a second Snap while one is pending fails with ErrBusy; under
// supersede the earlier Snap returns ErrSuperseded and its result is never
// shown.
func (c *Controller) Snap(ctx context.Context) (*domain.AnalysisResponse, error) {
	c.mu.Lock()
	session := c.session
	if session == nil {
		c.mu.Unlock()
		return nil, domain.NewDomainError("Controller.Snap", domain.ErrNoSession, MsgStartCameraFirst)
	}
	if c.pending && c.overlap == config.OverlapDisallow {
		c.mu.Unlock()
		return nil, domain.NewDomainError("Controller.Snap", domain.ErrBusy, "")
	}
	c.gen++
	gen := c.gen
	c.pending = true
	c.setLocked(StateCapturing, MsgCapturing, nil, false)
	st := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(st)

	capture, err := c.capturer.Capture(ctx, session)
	if err != nil {
		return nil, c.finish(gen, nil, err)
	}

	if !c.advance(gen) {
		capture.Release()
		return nil, domain.NewDomainError("Controller.Snap", domain.ErrSuperseded, "")
	}

	analysis, err := c.analyzer.Analyze(ctx, capture)
	capture.Release()
	if err := c.finish(gen, analysis, err); err != nil {
		return nil, err
	}
	return analysis, nil
}

// Retry repeats the last failed action.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	retry := c.retry
	c.mu.Unlock()
	if retry == nil {
		return domain.NewDomainError("Controller.Retry", domain.ErrInvalidInput, MsgNothingToRetry)
	}
	return retry(ctx)
}

// Stop releases the camera. A Snap still in flight is discarded.
func (c *Controller) Stop() {
	c.acquirer.Release(c.sink)

	c.mu.Lock()
	c.session = nil
	c.gen++
	c.pending = false
	c.retry = nil
	c.setLocked(StateIdle, MsgIdle, nil, false)
	c.status.Analysis = nil
	st := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(st)
	c.logger.Info("camera stopped")
}

// advance moves a current Snap from capturing to analyzing. It reports
// false when the Snap has been superseded.
func (c *Controller) advance(gen uint64) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	c.setLocked(StateAnalyzing, MsgAnalyzing, nil, false)
	st := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(st)
	return true
}

// finish records the outcome of Snap gen. A stale outcome leaves the status
// untouched and becomes ErrSuperseded.
func (c *Controller) finish(gen uint64, analysis *domain.AnalysisResponse, err error) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if err != nil {
			c.logger.Debug("superseded snap failed", "error", err)
		}
		return domain.NewDomainError("Controller.Snap", domain.ErrSuperseded, "")
	}
	c.pending = false
	if err != nil {
		c.retry = func(ctx context.Context) error {
			_, err := c.Snap(ctx)
			return err
		}
		c.failLocked(err)
	} else {
		c.retry = nil
		c.setLocked(StateDone, analysis.PrimaryText(), nil, false)
		c.status.Analysis = analysis
	}
	st := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(st)
	if err != nil {
		c.logger.Warn("snap failed", "code", domain.ErrorCodeOf(err), "error", err)
	}
	return err
}

func (c *Controller) failLocked(err error) {
	msg, retry := StatusMessage(err)
	c.setLocked(StateError, msg, err, retry)
}

func (c *Controller) setLocked(state State, msg string, err error, canRetry bool) {
	c.status.State = state
	c.status.Message = msg
	c.status.Err = err
	c.status.CanRetry = canRetry
	c.status.UpdatedAt = time.Now()
}

func (c *Controller) snapshotLocked() Status {
	st := c.status
	st.Live = false
	st.Facing = ""
	st.Mirrored = false
	if c.session != nil && c.session.IsActive() {
		st.Live = true
		st.Facing = c.session.FacingMode
		st.Mirrored = c.session.Mirrored
	}
	return st
}

func (c *Controller) notify(st Status) {
	if c.listener != nil {
		c.listener(st)
	}
}

// StatusMessage maps an error to the message shown to the user and whether
// a retry is offered.
func StatusMessage(err error) (string, bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, domain.ErrAcquisition):
		return MsgCameraFailed, true
	case errors.Is(err, domain.ErrTimeout):
		return MsgServiceBusy, true
	case errors.Is(err, domain.ErrUpload):
		var de *domain.DomainError
		if errors.As(err, &de) && de.Detail != "" {
			return de.Detail, true
		}
		return err.Error(), true
	case errors.Is(err, domain.ErrNotReady):
		return MsgStarting, false
	case errors.Is(err, domain.ErrEncoding):
		return MsgEncodingFailed, true
	default:
		return err.Error(), true
	}
}
