package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
)

var defaultBreaker = config.CircuitBreakerConfig{
	MaxFailures: 5,
	Timeout:     30 * time.Second,
	Interval:    time.Minute,
}

// CircuitBreakerProvider fails fast once the vision model has returned
// MaxFailures consecutive upstream errors, until Timeout has passed and a
// single probe succeeds.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
}

// NewCircuitBreakerProvider wraps inner. Zero settings take defaultBreaker.
func NewCircuitBreakerProvider(inner domain.LLMProvider, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerProvider {
	trip := orDefault(cfg.MaxFailures, defaultBreaker.MaxFailures)
	st := gobreaker.Settings{
		Name:         "vision:" + inner.Name(),
		MaxRequests:  1,
		Interval:     orDefault(cfg.Interval, defaultBreaker.Interval),
		Timeout:      orDefault(cfg.Timeout, defaultBreaker.Timeout),
		IsSuccessful: countsAsSuccess,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("vision breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &CircuitBreakerProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[*domain.ChatResponse](st),
	}
}

// countsAsSuccess keeps 4xx rejections (except 429) and caller cancellation
// from counting against the upstream.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var rme *domain.RemoteModelError
	if !errors.As(err, &rme) {
		return false
	}
	return rme.Status >= 400 && rme.Status < 500 && rme.Status != http.StatusTooManyRequests
}

// Chat implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := p.breaker.Execute(func() (*domain.ChatResponse, error) {
		return p.inner.Chat(ctx, req)
	})
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, &domain.RemoteModelError{
			Err: fmt.Errorf("%w: provider %q circuit open: %w", domain.ErrProviderError, p.inner.Name(), err),
		}
	default:
		return nil, err
	}
}

func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

func (p *CircuitBreakerProvider) State() gobreaker.State { return p.breaker.State() }

func (p *CircuitBreakerProvider) Counts() gobreaker.Counts { return p.breaker.Counts() }

var _ domain.LLMProvider = (*CircuitBreakerProvider)(nil)
