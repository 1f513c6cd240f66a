package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
)

// scriptedVision answers each call with the next scripted error, repeating
// the last entry once the script runs out. A nil entry is a description.
type scriptedVision struct {
	script []error
	calls  int
}

func (s *scriptedVision) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	if err := s.script[i]; err != nil {
		return nil, err
	}
	return &domain.ChatResponse{Message: domain.Message{Role: "assistant", Content: "a red mug on a desk"}}, nil
}

func (s *scriptedVision) Name() string { return "scripted" }

func describe(t *testing.T, p domain.LLMProvider) (*domain.ChatResponse, error) {
	t.Helper()
	return p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Parts: []domain.ContentPart{
			{Type: domain.PartText, Text: "What is in this image?"},
		}}},
	})
}

func TestBreakerForwardsDescription(t *testing.T) {
	inner := &scriptedVision{script: []error{nil}}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{}, slog.Default())

	resp, err := describe(t, cb)
	require.NoError(t, err)
	assert.Equal(t, "a red mug on a desk", resp.Message.Content)
	assert.Equal(t, "scripted", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestBreakerTripsOnUpstreamFailures(t *testing.T) {
	inner := &scriptedVision{script: []error{mapHTTPError(http.StatusBadGateway, []byte("bad gateway"))}}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     5 * time.Second,
		Interval:    time.Minute,
	}, slog.Default())

	for i := 0; i < 3; i++ {
		_, err := describe(t, cb)
		require.ErrorContains(t, err, "bad gateway")
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := describe(t, cb)
	assert.ErrorContains(t, err, "circuit open")
	assert.ErrorIs(t, err, domain.ErrRemoteModel)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, inner.calls, "open breaker must not reach the model")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	down := mapTransportError(context.DeadlineExceeded)
	inner := &scriptedVision{script: []error{down, down, nil}}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{
		MaxFailures: 2,
		Timeout:     50 * time.Millisecond,
		Interval:    time.Minute,
	}, slog.Default())

	describe(t, cb)
	describe(t, cb)
	require.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, gobreaker.StateHalfOpen, cb.State())

	resp, err := describe(t, cb)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Message.Content)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestBreakerStaysClosedOnRejectedImages(t *testing.T) {
	rejected := mapHTTPError(http.StatusBadRequest, []byte(`{"error":{"message":"invalid image"}}`))
	inner := &scriptedVision{script: []error{rejected}}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 2}, slog.Default())

	for i := 0; i < 5; i++ {
		_, err := describe(t, cb)
		var rme *domain.RemoteModelError
		require.ErrorAs(t, err, &rme)
		assert.Equal(t, http.StatusBadRequest, rme.Status)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, 5, inner.calls)
}

func TestBreakerKeepsInnerError(t *testing.T) {
	errQuota := errors.New("quota exhausted")
	cb := NewCircuitBreakerProvider(&scriptedVision{script: []error{errQuota}},
		config.CircuitBreakerConfig{MaxFailures: 10}, slog.Default())

	_, err := describe(t, cb)
	assert.ErrorIs(t, err, errQuota)
}

func TestBreakerCounts(t *testing.T) {
	inner := &scriptedVision{script: []error{nil, nil, errors.New("fail")}}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{MaxFailures: 10}, slog.Default())
	for i := 0; i < 3; i++ {
		describe(t, cb)
	}

	c := cb.Counts()
	assert.Equal(t, uint32(3), c.Requests)
	assert.Equal(t, uint32(2), c.TotalSuccesses)
	assert.Equal(t, uint32(1), c.TotalFailures)
	assert.Equal(t, uint32(1), c.ConsecutiveFailures)
}

func TestCountsAsSuccess(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":          {nil, true},
		"bad request":  {mapHTTPError(http.StatusBadRequest, nil), true},
		"unauthorized": {mapHTTPError(http.StatusUnauthorized, nil), true},
		"rate limited": {mapHTTPError(http.StatusTooManyRequests, nil), false},
		"server error": {mapHTTPError(http.StatusInternalServerError, nil), false},
		"timeout":      {mapTransportError(context.DeadlineExceeded), false},
		"canceled":     {context.Canceled, true},
		"plain":        {errors.New("boom"), false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, countsAsSuccess(tc.err))
		})
	}
}
