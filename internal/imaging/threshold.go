package imaging

import "image"

// OtsuThreshold binarizes a grayscale image using Otsu's method. Pixels
// above the computed threshold become 255, the rest 0. Returns the output
// and the threshold value.
func OtsuThreshold(g *image.Gray) (*image.Gray, uint8) {
	var hist [256]int
	total := 0
	b := g.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[(y-b.Min.Y)*g.Stride : (y-b.Min.Y)*g.Stride+b.Dx()]
		for _, p := range row {
			hist[p]++
		}
	}
	total = b.Dx() * b.Dy()

	sum := 0.0
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}

	var (
		sumB, wB  float64
		best      float64
		threshold uint8
	)
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(t)
		}
	}

	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := g.Pix[y*g.Stride : y*g.Stride+b.Dx()]
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
		for x, p := range src {
			if p > threshold {
				dst[x] = 255
			} else {
				dst[x] = 0
			}
		}
	}
	return out, threshold
}

// ApplyThreshold is the preprocessing binarization used before OCR: light
// Gaussian smoothing followed by Otsu.
func ApplyThreshold(g *image.Gray) *image.Gray {
	out, _ := OtsuThreshold(GaussianBlur3(g))
	return out
}

func countWhite(g *image.Gray) int {
	n := 0
	for _, p := range g.Pix {
		if p == 255 {
			n++
		}
	}
	return n
}
