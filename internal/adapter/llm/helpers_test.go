package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusGatewayTimeout, domain.ErrTimeout},
		{http.StatusInternalServerError, domain.ErrProviderError},
		{http.StatusBadGateway, domain.ErrProviderError},
		{http.StatusServiceUnavailable, domain.ErrProviderError},
	}
	for _, tt := range tests {
		err := mapHTTPError(tt.status, []byte("body"))
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
		if !errors.Is(err, domain.ErrRemoteModel) {
			t.Errorf("status %d: expected ErrRemoteModel, got %v", tt.status, err)
		}
	}
}

func TestMapHTTPErrorKeepsStatusAndBody(t *testing.T) {
	body := `{"error":{"message":"Invalid image","type":"invalid_request_error"}}`
	err := mapHTTPError(http.StatusBadRequest, []byte(body))

	var rme *domain.RemoteModelError
	if !errors.As(err, &rme) {
		t.Fatalf("expected *RemoteModelError, got %T", err)
	}
	if rme.Status != http.StatusBadRequest {
		t.Errorf("Status = %d", rme.Status)
	}
	if rme.Body != body {
		t.Errorf("Body = %q, want verbatim", rme.Body)
	}
	if rme.Err != nil {
		t.Errorf("400 should carry no category, got %v", rme.Err)
	}
}

func TestDoJSONRequestAccepts2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test") != "yes" {
			t.Errorf("missing custom header")
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	body, err := doJSONRequest(context.Background(), server.Client(), server.URL, []byte(`{}`), map[string]string{"X-Test": "yes"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{}` {
		t.Errorf("body = %q", body)
	}
}

func TestDoJSONRequestDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := doJSONRequest(ctx, server.Client(), server.URL, []byte(`{}`), nil)
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !errors.Is(err, domain.ErrRemoteModel) {
		t.Errorf("expected ErrRemoteModel, got %v", err)
	}
}

func TestDoJSONRequestConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := doJSONRequest(context.Background(), http.DefaultClient, url, []byte(`{}`), nil)
	if !errors.Is(err, domain.ErrRemoteModel) {
		t.Fatalf("expected ErrRemoteModel, got %v", err)
	}
	if errors.Is(err, domain.ErrTimeout) {
		t.Errorf("connection refused is not a timeout: %v", err)
	}
}

func TestNewHTTPClientDefaults(t *testing.T) {
	client := NewHTTPClient(config.ProviderConfig{})
	if client.Timeout != defaultConnTimeout+defaultRespTimeout {
		t.Errorf("Timeout = %v", client.Timeout)
	}
	tr, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("transport is %T", client.Transport)
	}
	if tr.MaxIdleConns != defaultPool.MaxIdleConns || tr.MaxIdleConnsPerHost != defaultPool.MaxIdleConnsPerHost {
		t.Errorf("pool defaults not applied: %d/%d", tr.MaxIdleConns, tr.MaxIdleConnsPerHost)
	}
	if tr.ResponseHeaderTimeout != defaultRespTimeout {
		t.Errorf("ResponseHeaderTimeout = %v", tr.ResponseHeaderTimeout)
	}
}

func TestNewHTTPClientOverrides(t *testing.T) {
	client := NewHTTPClient(config.ProviderConfig{
		ConnTimeout: 2 * time.Second,
		RespTimeout: 3 * time.Second,
		Pool:        config.PoolConfig{MaxIdleConns: 4, MaxConnsPerHost: 2, IdleConnTimeout: time.Second},
	})
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", client.Timeout)
	}
	tr := client.Transport.(*http.Transport)
	if tr.MaxIdleConns != 4 || tr.MaxConnsPerHost != 2 || tr.IdleConnTimeout != time.Second {
		t.Errorf("pool overrides not applied: %+v", tr)
	}
}
