package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"snapsight/internal/domain"
	"snapsight/internal/infra/tracer"
)

// Vision answers are short; anything past this is truncated before decoding.
const responseLimit = 10 << 20

// doJSONRequest POSTs body as JSON and returns the 2xx response body.
// Failures come back as *domain.RemoteModelError and deadlines also match
// domain.ErrTimeout.
func doJSONRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	switch {
	case err != nil:
		return nil, mapTransportError(fmt.Errorf("read response: %w", err))
	case resp.StatusCode/100 != 2:
		return nil, mapHTTPError(resp.StatusCode, raw)
	}
	return raw, nil
}

func logChatCompleted(logger *slog.Logger, provider string, r *domain.ChatResponse) {
	logger.Debug("vision completion received",
		"provider", provider,
		"model", r.Model,
		slog.Group("usage", "prompt", r.Usage.PromptTokens, "completion", r.Usage.CompletionTokens),
	)
}

func setUsageAttrs(span trace.Span, u domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("vision.tokens.prompt", u.PromptTokens),
		tracer.IntAttr("vision.tokens.completion", u.CompletionTokens),
		tracer.IntAttr("vision.tokens.total", u.TotalTokens),
	)
}

// mapHTTPError keeps the provider's status and body verbatim and tags the
// error with a category sentinel where one applies.
func mapHTTPError(statusCode int, body []byte) error {
	e := &domain.RemoteModelError{Status: statusCode, Body: string(body)}

	switch {
	case statusCode == http.StatusTooManyRequests:
		e.Err = domain.ErrRateLimit
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		e.Err = domain.ErrAuthInvalid
	case statusCode == http.StatusGatewayTimeout:
		e.Err = domain.ErrTimeout
	case statusCode >= 500:
		e.Err = domain.ErrProviderError
	}
	return e
}

func mapTransportError(err error) error {
	if isDeadline(err) {
		return &domain.RemoteModelError{Err: fmt.Errorf("%w: %v", domain.ErrTimeout, err)}
	}
	return &domain.RemoteModelError{Err: err}
}

func isDeadline(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
