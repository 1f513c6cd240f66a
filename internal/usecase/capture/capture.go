package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/image/draw"

	"snapsight/internal/domain"
	"snapsight/internal/infra/config"
	"snapsight/internal/infra/tracer"
)

// Capture defaults.
const (
	DefaultMaxSize = 800
	DefaultQuality = 0.8
)

// Capturer turns the current frame of a CameraSession into an encoded still.
type Capturer struct {
	cfg    config.CaptureConfig
	logger *slog.Logger
}

// NewCapturer creates a Capturer.
func NewCapturer(cfg config.CaptureConfig, logger *slog.Logger) *Capturer {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Quality <= 0 || cfg.Quality > 1 {
		cfg.Quality = DefaultQuality
	}
	if cfg.CropMode == "" {
		cfg.CropMode = config.CropSquare
	}
	return &Capturer{cfg: cfg, logger: logger}
}

// Capture samples the session's sink, crops, scales, mirrors to match the
// preview, and encodes JPEG. It returns either a complete result or an
// error wrapping ErrNotReady or ErrEncoding.
func (c *Capturer) Capture(ctx context.Context, session *domain.CameraSession) (*domain.CaptureResult, error) {
	_, span := tracer.StartSpan(ctx, "capture.frame")
	defer span.End()

	img, err := c.Render(session)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	data, err := c.encode(img)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	now := time.Now()
	b := img.Bounds()
	result := &domain.CaptureResult{
		ID:               generateULID(now),
		EncodedBytes:     data,
		Width:            b.Dx(),
		Height:           b.Dy(),
		SourceFacingMode: session.FacingMode,
		Mirrored:         session.Mirrored,
		MIMEType:         domain.MIMETypeJPEG,
		CapturedAt:       now,
	}

	span.SetAttributes(
		tracer.StringAttr("capture.facing", string(session.FacingMode)),
		tracer.IntAttr("capture.size", result.Width),
		tracer.IntAttr("capture.bytes", len(data)),
		tracer.BoolAttr("capture.mirrored", session.Mirrored),
	)
	tracer.SetOK(span)

	c.logger.Debug("frame captured",
		"capture_id", result.ID,
		"width", result.Width,
		"height", result.Height,
		"bytes", len(data),
		"mirrored", result.Mirrored,
	)
	return result, nil
}

// Render returns the cropped, scaled and mirrored image that Capture
// encodes.
func (c *Capturer) Render(session *domain.CameraSession) (out *image.RGBA, err error) {
	if session == nil || !session.IsActive() || session.Sink == nil {
		return nil, domain.NewDomainError("Capturer.Capture", domain.ErrNotReady, "no active camera session")
	}
	frame := session.Sink.Snapshot()
	if frame == nil || frame.Bounds().Empty() {
		return nil, domain.NewDomainError("Capturer.Capture", domain.ErrNotReady, "video has no decoded frame")
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = domain.NewDomainError("Capturer.Capture", domain.ErrEncoding, fmt.Sprintf("render: %v", r))
		}
	}()

	src, dw, dh := c.geometry(frame.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	if src.Dx() == dw && src.Dy() == dh {
		draw.Draw(dst, dst.Bounds(), frame, src.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), frame, src, draw.Src, nil)
	}

	if session.Mirrored {
		flipHorizontal(dst)
	}
	return dst, nil
}

// geometry returns the source rectangle and the output size for bounds.
func (c *Capturer) geometry(b image.Rectangle) (image.Rectangle, int, int) {
	w, h := b.Dx(), b.Dy()

	if c.cfg.CropMode == config.CropFull {
		longest := max(w, h)
		if longest <= c.cfg.MaxSize {
			return b, w, h
		}
		dw := max(w*c.cfg.MaxSize/longest, 1)
		dh := max(h*c.cfg.MaxSize/longest, 1)
		return b, dw, dh
	}

	size := min(w, h)
	startX := (w - size) / 2
	startY := (h - size) / 2
	src := image.Rect(b.Min.X+startX, b.Min.Y+startY, b.Min.X+startX+size, b.Min.Y+startY+size)
	target := min(size, c.cfg.MaxSize)
	return src, target, target
}

func (c *Capturer) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality(c.cfg.Quality)}); err != nil {
		return nil, domain.NewDomainError("Capturer.Capture", domain.ErrEncoding, err.Error())
	}
	if buf.Len() == 0 {
		return nil, domain.NewDomainError("Capturer.Capture", domain.ErrEncoding, "empty jpeg output")
	}
	return buf.Bytes(), nil
}

// jpegQuality maps a (0, 1] quality factor onto the 1-100 JPEG scale.
func jpegQuality(q float64) int {
	n := int(math.Round(q * 100))
	return min(max(n, 1), 100)
}

func flipHorizontal(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y) : img.PixOffset(b.Max.X-1, y)+4]
		for i, j := 0, len(row)-4; i < j; i, j = i+4, j-4 {
			row[i], row[j] = row[j], row[i]
			row[i+1], row[j+1] = row[j+1], row[i+1]
			row[i+2], row[j+2] = row[j+2], row[i+2]
			row[i+3], row[j+3] = row[j+3], row[i+3]
		}
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
