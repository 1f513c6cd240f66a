package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
)

var jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10, 'J', 'F', 'I', 'F', 0, 0xff, 0xd9}

func newCapture() *domain.CaptureResult {
	return &domain.CaptureResult{
		ID:           "01HZXTESTCAPTURE",
		EncodedBytes: append([]byte(nil), jpegBytes...),
		Width:        1,
		Height:       1,
		MIMEType:     domain.MIMETypeJPEG,
		CapturedAt:   time.Now(),
	}
}

func newTestClient(url, transport string, timeout time.Duration) *Client {
	return NewClient(config.ClientConfig{
		ProxyURL:  url,
		Endpoint:  "/api/vision",
		Transport: transport,
		Timeout:   timeout,
	}, slog.Default())
}

const envelope = `{"version":"1.0","modalities":{"text":{"content":"A desk lamp.","format":"plain_text"}},"primary":"text","text":"A desk lamp.","result":"A desk lamp."}`

func TestAnalyzeMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/vision", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		_, err := ulid.ParseStrict(r.Header.Get("X-Request-ID"))
		assert.NoError(t, err, "request id must be a ULID")

		file, hdr, err := r.FormFile(ImageField)
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, jpegBytes, data)
		assert.Equal(t, "image/jpeg", hdr.Header.Get("Content-Type"))
		assert.True(t, strings.HasSuffix(hdr.Filename, ".jpg"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, envelope)
	}))
	defer server.Close()

	c := newTestClient(server.URL+"/", "", 0)
	assert.Equal(t, config.TransportMultipart, c.Transport())

	resp, err := c.Analyze(context.Background(), newCapture())
	require.NoError(t, err)
	assert.Equal(t, "A desk lamp.", resp.PrimaryText())
	assert.Equal(t, resp.PrimaryText(), resp.Result)
}

func TestAnalyzeJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body struct {
			ImageData string `json:"imageData"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, strings.HasPrefix(body.ImageData, "data:image/jpeg;base64,"))

		io.WriteString(w, `{"text":"legacy text"}`)
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL, config.TransportJSON, time.Second).Analyze(context.Background(), newCapture())
	require.NoError(t, err)
	assert.Equal(t, "legacy text", resp.PrimaryText())
	assert.Equal(t, "legacy text", resp.Result)
}

func TestAnalyzeUnknownShapeYieldsSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"something":"else"}`)
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL, "", time.Second).Analyze(context.Background(), newCapture())
	require.NoError(t, err)
	assert.Equal(t, domain.NoAnalysisText, resp.PrimaryText())
}

func TestAnalyzeNon2xxKeepsStatusAndBody(t *testing.T) {
	body := `{"error":"Failed to analyze image","details":"{\"error\":{\"message\":\"quota\"}}"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, body)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "", time.Second).Analyze(context.Background(), newCapture())
	require.ErrorIs(t, err, domain.ErrUpload)
	assert.NotErrorIs(t, err, domain.ErrTimeout)

	var de *domain.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "HTTP 500: "+body, de.Detail)
	assert.Equal(t, domain.CodeUpload, domain.ErrorCodeOf(err))
}

func TestAnalyzeProxyRemoteTimeoutIsTimeout(t *testing.T) {
	body := `{"error":"vision API timed out","code":"REMOTE_TIMEOUT","details":"remote vision model failed: operation timed out"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, body)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "", 5*time.Second).Analyze(context.Background(), newCapture())
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.NotErrorIs(t, err, domain.ErrUpload)
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestAnalyzeMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html>oops</html>`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, "", time.Second).Analyze(context.Background(), newCapture())
	assert.ErrorIs(t, err, domain.ErrUpload)
}

func TestAnalyzeTimeoutIsDistinctFromUploadFailure(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	_, err := newTestClient(server.URL, "", 50*time.Millisecond).Analyze(context.Background(), newCapture())
	require.ErrorIs(t, err, domain.ErrTimeout)
	assert.NotErrorIs(t, err, domain.ErrUpload)
	assert.Equal(t, domain.CodeUploadTimeout, domain.ErrorCodeOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAnalyzeCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := newTestClient(server.URL, "", 5*time.Second).Analyze(ctx, newCapture())
	assert.ErrorIs(t, err, domain.ErrUpload)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrTimeout)
}

func TestAnalyzeNetworkFailure(t *testing.T) {
	c := NewClient(config.ClientConfig{ProxyURL: "http://proxy.invalid"}, slog.Default(),
		WithHTTPClient(&http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		})}),
	)

	_, err := c.Analyze(context.Background(), newCapture())
	assert.ErrorIs(t, err, domain.ErrUpload)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAnalyzeReleasedCapture(t *testing.T) {
	capture := newCapture()
	capture.Release()

	_, err := newTestClient("http://unused", "", time.Second).Analyze(context.Background(), capture)
	assert.ErrorIs(t, err, domain.ErrUpload)

	_, err = newTestClient("http://unused", "", time.Second).Analyze(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrUpload)
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(config.ClientConfig{ProxyURL: "http://localhost:8080/", Endpoint: "api/vision/analyze"}, slog.Default())
	assert.Equal(t, "http://localhost:8080/api/vision/analyze", c.url)
	assert.Equal(t, DefaultTimeout, c.timeout)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
