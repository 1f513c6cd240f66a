package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"snapsight/internal/domain"
)

// Snapper triggers one capture-and-analyze cycle.
type Snapper interface {
	Snap(ctx context.Context) (*domain.AnalysisResponse, error)
}

// AutoCapture fires Snap on a schedule, the automatic counterpart of the
// snap button. Runs that would overlap a pending analysis are skipped.
type AutoCapture struct {
	cron     *cron.Cron
	snapper  Snapper
	schedule string
	onResult func(*domain.AnalysisResponse, error)
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewAutoCapture creates an AutoCapture. schedule is a five-field cron
// expression, a descriptor such as "@hourly", or a Go duration ("30s").
// onResult, when non-nil, receives every outcome except skipped runs.
func NewAutoCapture(snapper Snapper, schedule string, onResult func(*domain.AnalysisResponse, error), logger *slog.Logger) (*AutoCapture, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("autocapture: invalid schedule %q: %w", schedule, err)
	}

	a := &AutoCapture{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		snapper:  snapper,
		schedule: schedule,
		onResult: onResult,
		logger:   logger,
	}
	a.cron.Schedule(sched, cron.FuncJob(a.run))
	return a, nil
}

// Start begins firing. It is a no-op when already running.
func (a *AutoCapture) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.cron.Start()
	a.started = true
	a.logger.Info("auto capture started", "schedule", a.schedule)
}

// Stop halts the schedule and waits for a running Snap to return.
func (a *AutoCapture) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	a.cancel()
	a.mu.Unlock()

	<-a.cron.Stop().Done()
	a.logger.Info("auto capture stopped")
}

// Next returns the next scheduled fire time, zero when stopped.
func (a *AutoCapture) Next() time.Time {
	entries := a.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (a *AutoCapture) run() {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := time.Now()
	analysis, err := a.snapper.Snap(ctx)
	if errors.Is(err, domain.ErrBusy) {
		a.logger.Debug("auto capture skipped, analysis pending")
		return
	}
	if err != nil {
		a.logger.Warn("auto capture failed", "error", err, "duration", time.Since(start))
	} else {
		a.logger.Debug("auto capture completed", "duration", time.Since(start))
	}
	if a.onResult != nil {
		a.onResult(analysis, err)
	}
}

// ParseSchedule accepts a cron expression first, then falls back to a
// positive duration.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration")
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive")
	}
	return constantDelay{delay: dur}, nil
}

// constantDelay fires every delay. Unlike cron.Every it keeps sub-second
// precision.
type constantDelay struct {
	delay time.Duration
}

func (c constantDelay) Next(t time.Time) time.Time {
	return t.Add(c.delay)
}
