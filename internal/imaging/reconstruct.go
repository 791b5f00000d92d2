package imaging

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

// RemoveRedactions locates near-black rectangular blocks and fills them
// with the surrounding background estimate so the OCR pass is not dragged
// down by solid bars.
func RemoveRedactions(g *image.Gray) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	mask := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if g.Pix[y*g.Stride+x] < 10 {
				mask.Pix[y*mask.Stride+x] = 255
			}
		}
	}
	out := CloneGray(g)
	for _, box := range ComponentBoxes(mask) {
		if box.Dx() <= minRegionWidth || box.Dy() <= minRegionHeight {
			continue
		}
		fill := borderMean(g, box)
		for y := box.Min.Y; y < box.Max.Y; y++ {
			for x := box.Min.X; x < box.Max.X; x++ {
				out.Pix[y*out.Stride+x] = fill
			}
		}
	}
	return out
}

// RemoveRedactionsRGBA inpaints near-black rectangular blocks in the color
// domain, before any pass that recolors pixels. The block mask uses the
// same luminance cutoff as the grayscale variant.
func RemoveRedactionsRGBA(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	g := ToGray(src)
	mask := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if g.Pix[y*g.Stride+x] < 10 {
				mask.Pix[y*mask.Stride+x] = 255
			}
		}
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	for _, box := range ComponentBoxes(mask) {
		if box.Dx() <= minRegionWidth || box.Dy() <= minRegionHeight {
			continue
		}
		fill := borderMeanRGBA(src, box)
		for y := box.Min.Y; y < box.Max.Y; y++ {
			for x := box.Min.X; x < box.Max.X; x++ {
				o := out.PixOffset(x, y)
				out.Pix[o] = fill.R
				out.Pix[o+1] = fill.G
				out.Pix[o+2] = fill.B
				out.Pix[o+3] = 255
			}
		}
	}
	return out
}

// borderMeanRGBA averages the per-channel values in a one-pixel ring just
// outside the box.
func borderMeanRGBA(src *image.RGBA, box image.Rectangle) color.RGBA {
	b := src.Bounds()
	var sr, sg, sb, n int
	add := func(x, y int) {
		if x < 0 || y < 0 || x >= b.Dx() || y >= b.Dy() {
			return
		}
		o := src.PixOffset(b.Min.X+x, b.Min.Y+y)
		sr += int(src.Pix[o])
		sg += int(src.Pix[o+1])
		sb += int(src.Pix[o+2])
		n++
	}
	for x := box.Min.X - 1; x <= box.Max.X; x++ {
		add(x, box.Min.Y-1)
		add(x, box.Max.Y)
	}
	for y := box.Min.Y; y < box.Max.Y; y++ {
		add(box.Min.X-1, y)
		add(box.Max.X, y)
	}
	if n == 0 {
		return color.RGBA{255, 255, 255, 255}
	}
	return color.RGBA{uint8(sr / n), uint8(sg / n), uint8(sb / n), 255}
}

// borderMean averages the pixels in a one-pixel ring just outside the box.
func borderMean(g *image.Gray, box image.Rectangle) uint8 {
	b := g.Bounds()
	sum, n := 0, 0
	add := func(x, y int) {
		if x < 0 || y < 0 || x >= b.Dx() || y >= b.Dy() {
			return
		}
		sum += int(g.Pix[y*g.Stride+x])
		n++
	}
	for x := box.Min.X - 1; x <= box.Max.X; x++ {
		add(x, box.Min.Y-1)
		add(x, box.Max.Y)
	}
	for y := box.Min.Y; y < box.Max.Y; y++ {
		add(box.Min.X-1, y)
		add(box.Max.X, y)
	}
	if n == 0 {
		return 255
	}
	return uint8(sum / n)
}

// RemoveColorOverlay clusters the page colors into background, text and
// overlay, then replaces overlay-colored pixels with the background color.
// The cluster centers are estimated on a downsampled copy.
func RemoveColorOverlay(img image.Image) image.Image {
	src := ToRGBA(img)
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return src
	}

	centers := clusterColors(src, 3)
	if len(centers) < 3 {
		return src
	}

	// Brightest center is the paper, darkest is the ink; whatever remains
	// is the overlay.
	bgIdx, textIdx := 0, 0
	for i, c := range centers {
		if brightness(c) > brightness(centers[bgIdx]) {
			bgIdx = i
		}
		if brightness(c) < brightness(centers[textIdx]) {
			textIdx = i
		}
	}
	overlayIdx := -1
	for i := range centers {
		if i != bgIdx && i != textIdx {
			overlayIdx = i
		}
	}
	if overlayIdx < 0 || overlayIdx == bgIdx || overlayIdx == textIdx {
		return src
	}
	overlay := centers[overlayIdx]
	bg := centers[bgIdx]

	mask := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := src.PixOffset(b.Min.X+x, b.Min.Y+y)
			d := colorDist(
				[3]float64{float64(src.Pix[o]), float64(src.Pix[o+1]), float64(src.Pix[o+2])},
				overlay,
			)
			if d < 50 {
				mask.Pix[y*mask.Stride+x] = 255
			}
		}
	}
	mask = Dilate(mask, 3, 3, 1)

	out := ToRGBA(src)
	fill := color.RGBA{uint8(bg[0]), uint8(bg[1]), uint8(bg[2]), 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask.Pix[y*mask.Stride+x] == 255 {
				out.SetRGBA(b.Min.X+x, b.Min.Y+y, fill)
			}
		}
	}
	return out
}

// clusterColors runs a small k-means over a downsampled copy of the image.
func clusterColors(src *image.RGBA, k int) [][3]float64 {
	small := image.NewRGBA(image.Rect(0, 0, 64, 64))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	var samples [][3]float64
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			o := small.PixOffset(x, y)
			samples = append(samples, [3]float64{
				float64(small.Pix[o]), float64(small.Pix[o+1]), float64(small.Pix[o+2]),
			})
		}
	}
	if len(samples) < k {
		return nil
	}

	centers := make([][3]float64, k)
	for i := 0; i < k; i++ {
		centers[i] = samples[i*len(samples)/k]
	}
	assign := make([]int, len(samples))
	for round := 0; round < 8; round++ {
		for i, s := range samples {
			best, bestD := 0, math.MaxFloat64
			for c := range centers {
				if d := colorDist(s, centers[c]); d < bestD {
					best, bestD = c, d
				}
			}
			assign[i] = best
		}
		sums := make([][3]float64, k)
		counts := make([]int, k)
		for i, s := range samples {
			c := assign[i]
			sums[c][0] += s[0]
			sums[c][1] += s[1]
			sums[c][2] += s[2]
			counts[c]++
		}
		for c := range centers {
			if counts[c] == 0 {
				continue
			}
			centers[c] = [3]float64{
				sums[c][0] / float64(counts[c]),
				sums[c][1] / float64(counts[c]),
				sums[c][2] / float64(counts[c]),
			}
		}
	}
	return centers
}

func colorDist(a, b [3]float64) float64 {
	dr := a[0] - b[0]
	dg := a[1] - b[1]
	db := a[2] - b[2]
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

func brightness(c [3]float64) float64 {
	return 0.299*c[0] + 0.587*c[1] + 0.114*c[2]
}

// ReconstructDocument runs the pixel reconstruction pipeline: strip
// redaction bars, subtract color overlays, then sharpen. Returns the new
// working image and the step names that were applied.
func ReconstructDocument(img image.Image) (image.Image, []string) {
	steps := []string{"remove_color_overlay", "remove_redactions", "sharpen"}
	cleaned := RemoveColorOverlay(img)
	g := ToGray(cleaned)
	g = RemoveRedactions(g)
	g = Sharpen(g)
	return g, steps
}
