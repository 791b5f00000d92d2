package imaging

import "image"

// convolve3 applies a 3x3 kernel with replicated edges and clamping.
func convolve3(g *image.Gray, k [9]float64, div float64) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if div == 0 {
		div = 1
	}
	at := func(x, y int) float64 {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return float64(g.Pix[y*g.Stride+x])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := k[0]*at(x-1, y-1) + k[1]*at(x, y-1) + k[2]*at(x+1, y-1) +
				k[3]*at(x-1, y) + k[4]*at(x, y) + k[5]*at(x+1, y) +
				k[6]*at(x-1, y+1) + k[7]*at(x, y+1) + k[8]*at(x+1, y+1)
			v := sum / div
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out.Pix[y*out.Stride+x] = uint8(v + 0.5)
		}
	}
	return out
}

// Sharpen applies the standard 3x3 sharpening kernel.
func Sharpen(g *image.Gray) *image.Gray {
	return convolve3(g, [9]float64{
		-1, -1, -1,
		-1, 9, -1,
		-1, -1, -1,
	}, 1)
}

// SharpenRGBA applies the same 3x3 sharpening kernel per channel, for the
// passes that must stay in the color domain before overlay subtraction.
func SharpenRGBA(src *image.RGBA) *image.RGBA {
	k := [9]float64{
		-1, -1, -1,
		-1, 9, -1,
		-1, -1, -1,
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	at := func(x, y, c int) float64 {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return float64(src.Pix[src.PixOffset(b.Min.X+x, b.Min.Y+y)+c])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := out.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				sum := k[0]*at(x-1, y-1, c) + k[1]*at(x, y-1, c) + k[2]*at(x+1, y-1, c) +
					k[3]*at(x-1, y, c) + k[4]*at(x, y, c) + k[5]*at(x+1, y, c) +
					k[6]*at(x-1, y+1, c) + k[7]*at(x, y+1, c) + k[8]*at(x+1, y+1, c)
				if sum < 0 {
					sum = 0
				} else if sum > 255 {
					sum = 255
				}
				out.Pix[o+c] = uint8(sum + 0.5)
			}
			out.Pix[o+3] = 255
		}
	}
	return out
}

// GaussianBlur3 applies a 3x3 Gaussian smoothing kernel.
func GaussianBlur3(g *image.Gray) *image.Gray {
	return convolve3(g, [9]float64{
		1, 2, 1,
		2, 4, 2,
		1, 2, 1,
	}, 16)
}

// EnhanceIteration produces the input for the next OCR pass: smooth the
// page, then push the high-frequency detail back in at increased weight.
func EnhanceIteration(g *image.Gray) *image.Gray {
	smooth := GaussianBlur3(g)
	b := g.Bounds()
	out := image.NewGray(b)
	for i := range g.Pix {
		base := float64(smooth.Pix[i])
		detail := float64(g.Pix[i]) - base
		v := base + 1.5*detail
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		out.Pix[i] = uint8(v + 0.5)
	}
	return out
}

// Invert flips a grayscale image in place.
func Invert(g *image.Gray) {
	for i, p := range g.Pix {
		g.Pix[i] = 255 - p
	}
}
