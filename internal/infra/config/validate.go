package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
// The vision API key is not required here; only the serve command needs it.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateProxy(cfg, ve)
	validateVision(cfg, ve)
	validateClient(cfg, ve)
	validateCapture(cfg, ve)
	validateCamera(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateProxy(cfg *Config, ve *ValidationError) {
	p := cfg.Proxy
	if p.Addr == "" {
		ve.Add("proxy.addr is required")
	} else if _, _, err := net.SplitHostPort(p.Addr); err != nil {
		ve.Add("proxy.addr %q is not a valid host:port", p.Addr)
	}
	if len(p.Routes) == 0 {
		ve.Add("proxy.routes must list at least one path")
	}
	for i, r := range p.Routes {
		if !strings.HasPrefix(r, "/") {
			ve.Add("proxy.routes[%d] %q must start with /", i, r)
		}
	}
	if p.MaxUploadBytes <= 0 {
		ve.Add("proxy.max_upload_bytes must be > 0")
	}
	if p.MultipartMemory <= 0 {
		ve.Add("proxy.multipart_memory must be > 0")
	}
	if p.RateLimit.Enabled {
		if p.RateLimit.RequestsPerMin <= 0 {
			ve.Add("proxy.rate_limit.requests_per_min must be > 0 when enabled")
		}
		if p.RateLimit.Burst <= 0 {
			ve.Add("proxy.rate_limit.burst must be > 0 when enabled")
		}
	}
}

func validateVision(cfg *Config, ve *ValidationError) {
	v := cfg.Vision
	if v.Provider.BaseURL == "" {
		ve.Add("vision.provider.base_url is required")
	} else if u, err := url.Parse(v.Provider.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("vision.provider.base_url %q is not an absolute URL", v.Provider.BaseURL)
	}
	if v.Provider.Model == "" {
		ve.Add("vision.provider.model is required")
	}
	if strings.TrimSpace(v.Prompt) == "" {
		ve.Add("vision.prompt must not be empty")
	}
	if v.MaxTokens <= 0 {
		ve.Add("vision.max_tokens must be > 0")
	}
	if v.Timeout <= 0 {
		ve.Add("vision.timeout must be > 0")
	}
	switch v.Detail {
	case "", "low", "high", "auto":
	default:
		ve.Add("vision.detail %q is invalid (want low, high, auto)", v.Detail)
	}
}

func validateClient(cfg *Config, ve *ValidationError) {
	c := cfg.Client
	if u, err := url.Parse(c.ProxyURL); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("client.proxy_url %q is not an absolute URL", c.ProxyURL)
	}
	if !strings.HasPrefix(c.Endpoint, "/") {
		ve.Add("client.endpoint %q must start with /", c.Endpoint)
	}
	switch c.Transport {
	case TransportMultipart, TransportJSON:
	default:
		ve.Add("client.transport %q is invalid (want %s, %s)", c.Transport, TransportMultipart, TransportJSON)
	}
	if c.Timeout <= 0 {
		ve.Add("client.timeout must be > 0")
	}
	switch c.Overlap {
	case OverlapDisallow, OverlapSupersede:
	default:
		ve.Add("client.overlap %q is invalid (want %s, %s)", c.Overlap, OverlapDisallow, OverlapSupersede)
	}
}

func validateCapture(cfg *Config, ve *ValidationError) {
	c := cfg.Capture
	if c.MaxSize <= 0 {
		ve.Add("capture.max_size must be > 0")
	}
	if c.Quality <= 0 || c.Quality > 1 {
		ve.Add("capture.quality must be in (0, 1], got %v", c.Quality)
	}
	switch c.CropMode {
	case CropSquare, CropFull:
	default:
		ve.Add("capture.crop_mode %q is invalid (want %s, %s)", c.CropMode, CropSquare, CropFull)
	}
}

func validateCamera(cfg *Config, ve *ValidationError) {
	switch cfg.Camera.DefaultFacing {
	case "rear", "front", "back", "environment", "user":
	default:
		ve.Add("camera.default_facing %q is invalid (want rear, front)", cfg.Camera.DefaultFacing)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is unsupported (want noop, stdout)", cfg.Tracer.Exporter)
	}
}
