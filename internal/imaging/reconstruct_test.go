package imaging

import (
	"image"
	"image/color"
	"testing"
)

func flatRGBA(w, h int, c color.RGBA) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.SetRGBA(x, y, c)
		}
	}
	return out
}

func fillRectRGBA(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func TestRemoveRedactionsRGBAFillsBars(t *testing.T) {
	white := color.RGBA{230, 230, 230, 255}
	src := flatRGBA(200, 100, white)
	fillRectRGBA(src, image.Rect(30, 40, 120, 60), color.RGBA{0, 0, 0, 255})

	out := RemoveRedactionsRGBA(src)
	got := out.RGBAAt(70, 50)
	if got.R < 100 || got.G < 100 || got.B < 100 {
		t.Fatalf("redaction bar not filled: got=%v", got)
	}
	if out.RGBAAt(10, 10) != white {
		t.Fatalf("background disturbed: got=%v", out.RGBAAt(10, 10))
	}
}

func TestRemoveRedactionsRGBALeavesSmallMarks(t *testing.T) {
	src := flatRGBA(100, 60, color.RGBA{230, 230, 230, 255})
	// Below the minimum block size, so this is treated as ink, not a bar.
	fillRectRGBA(src, image.Rect(10, 10, 16, 16), color.RGBA{0, 0, 0, 255})

	out := RemoveRedactionsRGBA(src)
	if got := out.RGBAAt(12, 12); got.R != 0 {
		t.Fatalf("small mark must survive: got=%v", got)
	}
}

func TestRemoveRedactionsRGBAMasksBeforeRecoloring(t *testing.T) {
	// A dark bar with a colored overlay band next to it. Inpainting works
	// off the near-black mask, so the overlay must still be present when
	// the mask is built; the bar is filled with the mixed border color.
	src := flatRGBA(200, 120, color.RGBA{230, 230, 230, 255})
	fillRectRGBA(src, image.Rect(30, 30, 160, 50), color.RGBA{220, 200, 60, 255})
	fillRectRGBA(src, image.Rect(40, 55, 150, 80), color.RGBA{0, 0, 0, 255})

	out := RemoveRedactionsRGBA(src)
	got := out.RGBAAt(90, 65)
	if got.R < 50 || got.G < 50 {
		t.Fatalf("bar not inpainted from its border: got=%v", got)
	}
	if overlay := out.RGBAAt(90, 40); overlay.B > 150 {
		t.Fatalf("overlay band must be untouched here: got=%v", overlay)
	}
}
