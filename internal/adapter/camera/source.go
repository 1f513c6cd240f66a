package camera

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/webp"
)

// FrameSource supplies the picture a virtual camera presents.
type FrameSource interface {
	Frame() image.Image
}

// StillSource presents the same image on every frame.
type StillSource struct {
	img image.Image
}

// NewStillSource wraps img.
func NewStillSource(img image.Image) *StillSource {
	return &StillSource{img: img}
}

// LoadStill decodes a JPEG, PNG, GIF or WebP file.
func LoadStill(path string) (*StillSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open camera source: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode camera source %s: %w", path, err)
	}
	return &StillSource{img: img}, nil
}

func (s *StillSource) Frame() image.Image { return s.img }

// Scene is a generated test card. Red rises left to right, green top to
// bottom, and a white marker sits in the top-left corner, so a flip is
// visible in the output.
type Scene struct {
	img *image.RGBA
}

// NewScene renders a width x height test card tinted by base.
func NewScene(width, height int, base color.RGBA) *Scene {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(int(base.R) * x / max(width, 1)),
				G: uint8(int(base.G) * y / max(height, 1)),
				B: base.B,
				A: 0xff,
			})
		}
	}
	marker := max(min(width, height)/8, 1)
	for y := 0; y < marker; y++ {
		for x := 0; x < marker; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
		}
	}
	return &Scene{img: img}
}

func (s *Scene) Frame() image.Image { return s.img }
