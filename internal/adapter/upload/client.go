// Package upload posts captured frames to the analysis proxy.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
	"snapsight/internal/infra/middleware"
	"snapsight/internal/infra/tracer"
)

const (
	// DefaultTimeout bounds a single analysis round trip.
	DefaultTimeout = 30 * time.Second

	// ImageField is the multipart form field carrying the JPEG payload.
	ImageField = "image"

	maxResponseBody = 1 << 20
)

// Client implements domain.Analyzer against the analysis proxy.
type Client struct {
	url       string
	transport string
	timeout   time.Duration
	http      *http.Client
	logger    *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client. The transport mode is fixed for its lifetime.
func NewClient(cfg config.ClientConfig, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		url:       strings.TrimRight(cfg.ProxyURL, "/") + "/" + strings.TrimLeft(cfg.Endpoint, "/"),
		transport: cfg.Transport,
		timeout:   cfg.Timeout,
		http:      &http.Client{},
		logger:    logger,
	}
	if c.transport == "" {
		c.transport = config.TransportMultipart
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transport returns the request encoding this client uses.
func (c *Client) Transport() string { return c.transport }

// Analyze uploads capture and returns the normalized analysis. The client's
// own deadline and a proxy-reported remote timeout yield ErrTimeout; every
// other failure yields ErrUpload.
func (c *Client) Analyze(ctx context.Context, capture *domain.CaptureResult) (*domain.AnalysisResponse, error) {
	const op = "Client.Analyze"

	if capture == nil || capture.Released() || capture.Size() == 0 {
		return nil, domain.NewSubSystemError("upload", op, domain.ErrUpload, "capture has no payload")
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tctx, span := tracer.StartSpan(tctx, "upload.analyze",
		trace.WithAttributes(
			tracer.StringAttr("upload.transport", c.transport),
			tracer.IntAttr("upload.bytes", capture.Size()),
		),
	)
	defer span.End()

	body, contentType, err := c.encode(capture)
	if err != nil {
		err = domain.NewSubSystemError("upload", op, domain.ErrUpload, err.Error())
		tracer.RecordError(span, err)
		return nil, err
	}

	req, err := http.NewRequestWithContext(tctx, http.MethodPost, c.url, body)
	if err != nil {
		err = domain.NewSubSystemError("upload", op, domain.ErrUpload, err.Error())
		tracer.RecordError(span, err)
		return nil, err
	}
	requestID := middleware.NewRequestID(time.Now())
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(middleware.RequestIDHeader, requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		err = c.failure(ctx, tctx, op, err)
		tracer.RecordError(span, err)
		c.logger.Warn("upload failed", "request_id", requestID, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		err = c.failure(ctx, tctx, op, err)
		tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(tracer.IntAttr("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := rejection(op, resp.StatusCode, raw)
		tracer.RecordError(span, err)
		c.logger.Warn("proxy rejected upload",
			"request_id", requestID,
			"status", resp.StatusCode,
		)
		return nil, err
	}

	analysis, err := domain.NormalizeAnalysis(raw)
	if err != nil {
		err = domain.WrapOp(op, err)
		tracer.RecordError(span, err)
		return nil, err
	}

	tracer.SetOK(span)
	c.logger.Debug("capture analyzed",
		"request_id", requestID,
		"capture_id", capture.ID,
		"transport", c.transport,
		"duration", time.Since(start),
	)
	return analysis, nil
}

func (c *Client) encode(capture *domain.CaptureResult) (io.Reader, string, error) {
	if c.transport == config.TransportJSON {
		data, err := json.Marshal(map[string]string{"imageData": capture.DataURL()})
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, ImageField, capture.ID+".jpg"))
	mime := capture.MIMEType
	if mime == "" {
		mime = domain.MIMETypeJPEG
	}
	h.Set("Content-Type", mime)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(capture.EncodedBytes); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// rejection turns a non-2xx proxy answer into an error carrying the status
// and body verbatim. A body tagged REMOTE_TIMEOUT matches ErrTimeout instead
// of ErrUpload.
func rejection(op string, status int, raw []byte) error {
	detail := fmt.Sprintf("HTTP %d: %s", status, strings.TrimSpace(string(raw)))
	var body domain.ErrorBody
	if json.Unmarshal(raw, &body) == nil && body.Code == domain.CodeRemoteTimeout {
		return domain.NewDomainError(op, domain.ErrTimeout, detail)
	}
	return domain.NewSubSystemError("upload", op, domain.ErrUpload, detail)
}

// failure classifies a transport error. Only the client's own deadline is a
// timeout; caller cancellation is reported as an upload failure that still
// matches the context error.
func (c *Client) failure(parent, own context.Context, op string, err error) error {
	if parent.Err() == nil && errors.Is(own.Err(), context.DeadlineExceeded) {
		return domain.NewSubSystemError("upload", op, domain.ErrTimeout,
			fmt.Sprintf("no response within %s", c.timeout))
	}
	if perr := parent.Err(); perr != nil {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrUpload, perr)
	}
	return domain.NewSubSystemError("upload", op, domain.ErrUpload, err.Error())
}

var _ domain.Analyzer = (*Client)(nil)
