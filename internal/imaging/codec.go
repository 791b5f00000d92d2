package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"
)

// Input validation errors. The messages are part of the API contract and
// surface to callers verbatim.
var (
	ErrEmptyInput = errors.New("Empty image content")
	ErrCorrupted  = errors.New("Corrupted image data")
)

type OversizedError struct {
	MaxMB int
}

func (e *OversizedError) Error() string {
	return fmt.Sprintf("Image size exceeds %dMB limit", e.MaxMB)
}

// Validate gates raw input before any decode work.
func Validate(data []byte, maxMB int) error {
	if len(data) == 0 {
		return ErrEmptyInput
	}
	if maxMB > 0 && len(data) > maxMB*(1<<20) {
		return &OversizedError{MaxMB: maxMB}
	}
	return nil
}

// Decode parses image bytes (png, jpeg, gif).
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return img, nil
}

// EncodePNG renders an image back to bytes for the OCR binary and uploads.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToGray converts any image to 8-bit grayscale.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// ToRGBA converts any image to RGBA.
func ToRGBA(img image.Image) *image.RGBA {
	if r, ok := img.(*image.RGBA); ok {
		return r
	}
	b := img.Bounds()
	r := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(r, r.Bounds(), img, b.Min, draw.Src)
	return r
}

// CloneGray copies a grayscale image.
func CloneGray(g *image.Gray) *image.Gray {
	out := image.NewGray(g.Bounds())
	copy(out.Pix, g.Pix)
	return out
}

// CropGray extracts a sub-rectangle as an independent image.
func CropGray(g *image.Gray, r image.Rectangle) *image.Gray {
	r = r.Intersect(g.Bounds())
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), g, r.Min, draw.Src)
	return out
}

// PrepareROI pads a region crop on all sides with background fill so the
// OCR binary has margin to work with.
func PrepareROI(g *image.Gray, padding int) *image.Gray {
	if padding <= 0 {
		return CloneGray(g)
	}
	b := g.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx()+2*padding, b.Dy()+2*padding))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.Gray{Y: 255}), image.Point{}, draw.Src)
	draw.Draw(out, image.Rect(padding, padding, padding+b.Dx(), padding+b.Dy()), g, b.Min, draw.Src)
	return out
}
