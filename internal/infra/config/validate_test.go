package config

import (
	"strings"
	"testing"
)

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults should pass: %v", err)
	}
}

func TestValidateFieldErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"proxy addr empty", func(c *Config) { c.Proxy.Addr = "" }, "proxy.addr is required"},
		{"proxy addr bad", func(c *Config) { c.Proxy.Addr = "nonsense" }, "not a valid host:port"},
		{"no routes", func(c *Config) { c.Proxy.Routes = nil }, "proxy.routes must list"},
		{"relative route", func(c *Config) { c.Proxy.Routes = []string{"api/vision"} }, "must start with /"},
		{"upload limit", func(c *Config) { c.Proxy.MaxUploadBytes = 0 }, "proxy.max_upload_bytes"},
		{"multipart memory", func(c *Config) { c.Proxy.MultipartMemory = -1 }, "proxy.multipart_memory"},
		{"rate limit", func(c *Config) { c.Proxy.RateLimit.RequestsPerMin = 0 }, "requests_per_min"},
		{"base url", func(c *Config) { c.Vision.Provider.BaseURL = "not a url" }, "vision.provider.base_url"},
		{"model", func(c *Config) { c.Vision.Provider.Model = "" }, "vision.provider.model"},
		{"prompt", func(c *Config) { c.Vision.Prompt = "  " }, "vision.prompt"},
		{"max tokens", func(c *Config) { c.Vision.MaxTokens = 0 }, "vision.max_tokens"},
		{"vision timeout", func(c *Config) { c.Vision.Timeout = 0 }, "vision.timeout"},
		{"detail", func(c *Config) { c.Vision.Detail = "ultra" }, "vision.detail"},
		{"proxy url", func(c *Config) { c.Client.ProxyURL = "localhost" }, "client.proxy_url"},
		{"endpoint", func(c *Config) { c.Client.Endpoint = "api" }, "client.endpoint"},
		{"transport", func(c *Config) { c.Client.Transport = "grpc" }, "client.transport"},
		{"client timeout", func(c *Config) { c.Client.Timeout = 0 }, "client.timeout"},
		{"overlap", func(c *Config) { c.Client.Overlap = "queue" }, "client.overlap"},
		{"max size", func(c *Config) { c.Capture.MaxSize = 0 }, "capture.max_size"},
		{"quality zero", func(c *Config) { c.Capture.Quality = 0 }, "capture.quality"},
		{"quality high", func(c *Config) { c.Capture.Quality = 1.2 }, "capture.quality"},
		{"crop mode", func(c *Config) { c.Capture.CropMode = "circle" }, "capture.crop_mode"},
		{"facing", func(c *Config) { c.Camera.DefaultFacing = "side" }, "camera.default_facing"},
		{"tracer exporter", func(c *Config) { c.Tracer.Enabled = true; c.Tracer.Exporter = "jaeger" }, "tracer.exporter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateRateLimitDisabledSkipsChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Proxy.RateLimit.Enabled = false
	cfg.Proxy.RateLimit.RequestsPerMin = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled rate limit should not be validated: %v", err)
	}
}

func TestValidateTracerDisabledSkipsExporter(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer.Exporter = "jaeger"
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled tracer should not be validated: %v", err)
	}
}

func TestValidateBrowserFacingNames(t *testing.T) {
	for _, f := range []string{"environment", "user", "back"} {
		cfg := Defaults()
		cfg.Camera.DefaultFacing = f
		if err := Validate(cfg); err != nil {
			t.Errorf("facing %q should pass: %v", f, err)
		}
	}
}

func TestValidateMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Proxy.Addr = ""
	cfg.Vision.MaxTokens = 0
	cfg.Client.Transport = "carrier-pigeon"
	cfg.Capture.MaxSize = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) < 4 {
		t.Errorf("expected at least 4 errors, got %d: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidationErrorFormat(t *testing.T) {
	ve := &ValidationError{}
	ve.Add("first error")
	ve.Add("second error")

	msg := ve.Error()
	if !strings.HasPrefix(msg, "config validation failed:") {
		t.Errorf("unexpected prefix: %s", msg)
	}
	if !strings.Contains(msg, "first error") || !strings.Contains(msg, "second error") {
		t.Errorf("missing error details: %s", msg)
	}
}
