package imaging

import "image"

// Dilate grows white (255) areas with a kw x kh rectangular kernel,
// repeated iterations times.
func Dilate(g *image.Gray, kw, kh, iterations int) *image.Gray {
	if kw < 1 {
		kw = 1
	}
	if kh < 1 {
		kh = 1
	}
	rx, ry := kw/2, kh/2
	cur := CloneGray(g)
	b := cur.Bounds()
	w, h := b.Dx(), b.Dy()
	for it := 0; it < iterations; it++ {
		next := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := uint8(0)
			scan:
				for dy := -ry; dy <= ry; dy++ {
					yy := y + dy
					if yy < 0 || yy >= h {
						continue
					}
					for dx := -rx; dx <= rx; dx++ {
						xx := x + dx
						if xx < 0 || xx >= w {
							continue
						}
						if cur.Pix[yy*cur.Stride+xx] == 255 {
							v = 255
							break scan
						}
					}
				}
				next.Pix[y*next.Stride+x] = v
			}
		}
		cur = next
	}
	return cur
}

// ComponentBoxes finds the bounding rectangles of 8-connected white
// components, in raster discovery order.
func ComponentBoxes(g *image.Gray) []image.Rectangle {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	visited := make([]bool, w*h)
	var boxes []image.Rectangle
	stack := make([]int, 0, 1024)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if visited[idx] || g.Pix[y*g.Stride+x] != 255 {
				continue
			}
			minX, minY, maxX, maxY := x, y, x, y
			visited[idx] = true
			stack = append(stack[:0], idx)
			for len(stack) > 0 {
				cur := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				cx, cy := cur%w, cur/w
				if cx < minX {
					minX = cx
				}
				if cx > maxX {
					maxX = cx
				}
				if cy < minY {
					minY = cy
				}
				if cy > maxY {
					maxY = cy
				}
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						nx, ny := cx+dx, cy+dy
						if nx < 0 || nx >= w || ny < 0 || ny >= h {
							continue
						}
						nidx := ny*w + nx
						if visited[nidx] || g.Pix[ny*g.Stride+nx] != 255 {
							continue
						}
						visited[nidx] = true
						stack = append(stack, nidx)
					}
				}
			}
			boxes = append(boxes, image.Rect(minX, minY, maxX+1, maxY+1))
		}
	}
	return boxes
}
