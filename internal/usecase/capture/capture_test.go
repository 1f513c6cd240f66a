package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"testing"

	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.Default()
}

type fakeTrack struct{ stopped bool }

func (t *fakeTrack) Kind() string  { return "video" }
func (t *fakeTrack) Label() string { return "fake" }
func (t *fakeTrack) Stop()         { t.stopped = true }
func (t *fakeTrack) Stopped() bool { return t.stopped }

type fakeStream struct {
	frame image.Image
	track *fakeTrack
}

func (s *fakeStream) ID() string                  { return "fake" }
func (s *fakeStream) Tracks() []domain.MediaTrack { return []domain.MediaTrack{s.track} }
func (s *fakeStream) Frame() image.Image          { return s.frame }

type fakeSink struct {
	stream   domain.MediaStream
	mirrored bool
}

func (s *fakeSink) Bind(st domain.MediaStream) { s.stream = st }
func (s *fakeSink) Stream() domain.MediaStream { return s.stream }
func (s *fakeSink) SetMirrored(m bool)         { s.mirrored = m }
func (s *fakeSink) Mirrored() bool             { return s.mirrored }

func (s *fakeSink) Snapshot() image.Image {
	if s.stream == nil {
		return nil
	}
	return s.stream.Frame()
}

func (s *fakeSink) VideoSize() (int, int) {
	f := s.Snapshot()
	if f == nil {
		return 0, 0
	}
	return f.Bounds().Dx(), f.Bounds().Dy()
}

// scene draws a frame whose every pixel is distinct along x, so flips are
// detectable pixel by pixel.
func scene(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x * 7), A: 255})
		}
	}
	return img
}

func newSession(frame image.Image, facing domain.FacingMode, mirrored bool) *domain.CameraSession {
	stream := &fakeStream{frame: frame, track: &fakeTrack{}}
	sink := &fakeSink{stream: stream, mirrored: mirrored}
	return domain.NewCameraSession("test", facing, mirrored, stream, sink)
}

func squareConfig(maxSize int) config.CaptureConfig {
	return config.CaptureConfig{MaxSize: maxSize, Quality: 0.8, CropMode: config.CropSquare}
}

func TestCaptureAlwaysSquare(t *testing.T) {
	sizes := []struct{ w, h int }{
		{640, 480}, {480, 640}, {1920, 1080}, {1080, 1920}, {301, 17}, {5, 900}, {64, 64},
	}
	c := NewCapturer(squareConfig(800), newTestLogger())
	for _, sz := range sizes {
		res, err := c.Capture(context.Background(), newSession(image.NewRGBA(image.Rect(0, 0, sz.w, sz.h)), domain.FacingRear, false))
		if err != nil {
			t.Fatalf("%dx%d: %v", sz.w, sz.h, err)
		}
		if res.Width != res.Height {
			t.Errorf("%dx%d: result %dx%d is not square", sz.w, sz.h, res.Width, res.Height)
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(res.EncodedBytes))
		if err != nil {
			t.Fatalf("%dx%d: output is not JPEG: %v", sz.w, sz.h, err)
		}
		if cfg.Width != res.Width || cfg.Height != res.Height {
			t.Errorf("%dx%d: encoded %dx%d, reported %dx%d", sz.w, sz.h, cfg.Width, cfg.Height, res.Width, res.Height)
		}
	}
}

func TestCaptureScalesDownNeverUp(t *testing.T) {
	tests := []struct {
		w, h, maxSize, want int
	}{
		{640, 480, 800, 480},
		{1920, 1080, 800, 800},
		{1080, 1920, 800, 800},
		{800, 1000, 800, 800},
		{801, 900, 800, 800},
		{200, 100, 64, 64},
		{30, 40, 64, 30},
	}
	for _, tt := range tests {
		c := NewCapturer(squareConfig(tt.maxSize), newTestLogger())
		img, err := c.Render(newSession(scene(tt.w, tt.h), domain.FacingRear, false))
		if err != nil {
			t.Fatalf("%dx%d: %v", tt.w, tt.h, err)
		}
		if got := img.Bounds().Dx(); got != tt.want {
			t.Errorf("%dx%d max %d: size = %d, want %d", tt.w, tt.h, tt.maxSize, got, tt.want)
		}
	}
}

func TestCaptureCentredCropAtNativeSize(t *testing.T) {
	src := scene(60, 40)
	c := NewCapturer(squareConfig(800), newTestLogger())

	img, err := c.Render(newSession(src, domain.FacingRear, false))
	if err != nil {
		t.Fatal(err)
	}
	// size 40, startX = (60-40)/2 = 10.
	for _, p := range []image.Point{{0, 0}, {39, 0}, {17, 23}, {39, 39}} {
		if got, want := img.RGBAAt(p.X, p.Y), src.RGBAAt(p.X+10, p.Y); got != want {
			t.Errorf("pixel %v = %v, want %v", p, got, want)
		}
	}
}

func TestCaptureMirrorIsExactHorizontalFlip(t *testing.T) {
	for _, tc := range []struct {
		name    string
		w, h    int
		maxSize int
	}{
		{"native", 90, 60, 800},
		{"downscaled", 200, 150, 48},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := scene(tc.w, tc.h)
			c := NewCapturer(squareConfig(tc.maxSize), newTestLogger())

			plain, err := c.Render(newSession(src, domain.FacingFront, false))
			if err != nil {
				t.Fatal(err)
			}
			mirrored, err := c.Render(newSession(src, domain.FacingFront, true))
			if err != nil {
				t.Fatal(err)
			}

			b := plain.Bounds()
			if mirrored.Bounds() != b {
				t.Fatalf("bounds differ: %v vs %v", mirrored.Bounds(), b)
			}
			for y := 0; y < b.Dy(); y++ {
				for x := 0; x < b.Dx(); x++ {
					if plain.RGBAAt(x, y) != mirrored.RGBAAt(b.Dx()-1-x, y) {
						t.Fatalf("pixel (%d,%d) is not mirrored", x, y)
					}
				}
			}
			if plain.RGBAAt(0, 0) == mirrored.RGBAAt(0, 0) {
				t.Error("mirrored render should differ from plain render")
			}
		})
	}
}

func TestCaptureResultMetadata(t *testing.T) {
	c := NewCapturer(squareConfig(800), newTestLogger())
	res, err := c.Capture(context.Background(), newSession(scene(64, 48), domain.FacingFront, true))
	if err != nil {
		t.Fatal(err)
	}
	if res.ID == "" {
		t.Error("missing capture ID")
	}
	if res.SourceFacingMode != domain.FacingFront || !res.Mirrored {
		t.Errorf("facing=%s mirrored=%v", res.SourceFacingMode, res.Mirrored)
	}
	if res.MIMEType != domain.MIMETypeJPEG {
		t.Errorf("MIMEType = %q", res.MIMEType)
	}
	if res.CapturedAt.IsZero() {
		t.Error("CapturedAt not set")
	}
}

func TestCaptureQualityAffectsSize(t *testing.T) {
	src := scene(256, 256)
	low := NewCapturer(config.CaptureConfig{MaxSize: 800, Quality: 0.1}, newTestLogger())
	high := NewCapturer(config.CaptureConfig{MaxSize: 800, Quality: 1}, newTestLogger())

	lr, err := low.Capture(context.Background(), newSession(src, domain.FacingRear, false))
	if err != nil {
		t.Fatal(err)
	}
	hr, err := high.Capture(context.Background(), newSession(src, domain.FacingRear, false))
	if err != nil {
		t.Fatal(err)
	}
	if lr.Size() >= hr.Size() {
		t.Errorf("quality 0.1 produced %d bytes, quality 1 produced %d", lr.Size(), hr.Size())
	}
}

func TestCaptureFullFrameMode(t *testing.T) {
	c := NewCapturer(config.CaptureConfig{MaxSize: 100, Quality: 0.8, CropMode: config.CropFull}, newTestLogger())

	img, err := c.Render(newSession(scene(400, 200), domain.FacingRear, false))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("full frame = %v, want 100x50", img.Bounds())
	}

	img, err = c.Render(newSession(scene(60, 30), domain.FacingRear, false))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 60 || img.Bounds().Dy() != 30 {
		t.Errorf("small full frame = %v, want 60x30", img.Bounds())
	}
}

func TestCaptureNotReady(t *testing.T) {
	c := NewCapturer(squareConfig(800), newTestLogger())

	released := newSession(scene(10, 10), domain.FacingRear, false)
	released.Release()

	cases := map[string]*domain.CameraSession{
		"nil session":     nil,
		"no frame yet":    newSession(nil, domain.FacingRear, false),
		"zero-size frame": newSession(image.NewRGBA(image.Rect(0, 0, 0, 0)), domain.FacingRear, false),
		"released":        released,
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := c.Capture(context.Background(), s)
			if !errors.Is(err, domain.ErrNotReady) {
				t.Fatalf("err = %v, want ErrNotReady", err)
			}
			if res != nil {
				t.Error("no partial result may be returned")
			}
		})
	}
}

func TestJPEGQuality(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0.8, 80},
		{1, 100},
		{0.001, 1},
		{0.555, 56},
	}
	for _, tt := range tests {
		if got := jpegQuality(tt.in); got != tt.want {
			t.Errorf("jpegQuality(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewCapturerDefaults(t *testing.T) {
	c := NewCapturer(config.CaptureConfig{}, newTestLogger())
	if c.cfg.MaxSize != DefaultMaxSize || c.cfg.Quality != DefaultQuality || c.cfg.CropMode != config.CropSquare {
		t.Errorf("defaults not applied: %+v", c.cfg)
	}
}
