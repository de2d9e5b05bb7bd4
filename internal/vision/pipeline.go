package vision

import (
	"image"
	"math"
)

// binary is a packed 0/1 raster produced by thresholding.
type binary struct {
	w, h int
	pix  []uint8
}

func newBinary(w, h int) *binary {
	return &binary{w: w, h: h, pix: make([]uint8, w*h)}
}

func (b *binary) at(x, y int) uint8 {
	if x < 0 || y < 0 || x >= b.w || y >= b.h {
		return 0
	}
	return b.pix[y*b.w+x]
}

func (b *binary) set(x, y int, v uint8) {
	b.pix[y*b.w+x] = v
}

// thresholdImage converts a frame to a binary raster, marking pixels whose
// luma meets the threshold. Gray and RGBA frames take fast paths.
func thresholdImage(img image.Image, threshold uint8) *binary {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := newBinary(w, h)

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			row := src.Pix[(y+bounds.Min.Y-src.Rect.Min.Y)*src.Stride:]
			for x := 0; x < w; x++ {
				if row[x+bounds.Min.X-src.Rect.Min.X] >= threshold {
					out.set(x, y, 1)
				}
			}
		}
	case *image.RGBA:
		for y := 0; y < h; y++ {
			i := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			for x := 0; x < w; x++ {
				p := src.Pix[i+x*4 : i+x*4+3]
				if luma(p[0], p[1], p[2]) >= threshold {
					out.set(x, y, 1)
				}
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				if luma(uint8(r>>8), uint8(g>>8), uint8(b>>8)) >= threshold {
					out.set(x, y, 1)
				}
			}
		}
	}
	return out
}

// luma uses the ITU-R BT.601 weights, same as a standard grayscale convert.
func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b)) / 1000)
}

// open performs one pass of 3x3 morphological opening (erode then dilate)
// to knock out single-pixel noise. Out-of-bounds counts as background.
func open3x3(src *binary) *binary {
	eroded := newBinary(src.w, src.h)
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			if src.at(x, y) == 0 {
				continue
			}
			keep := true
			for dy := -1; dy <= 1 && keep; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if src.at(x+dx, y+dy) == 0 {
						keep = false
						break
					}
				}
			}
			if keep {
				eroded.set(x, y, 1)
			}
		}
	}

	dilated := newBinary(src.w, src.h)
	for y := 0; y < src.h; y++ {
		for x := 0; x < src.w; x++ {
			if eroded.at(x, y) == 0 {
				continue
			}
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx >= 0 && ny >= 0 && nx < src.w && ny < src.h {
						dilated.set(nx, ny, 1)
					}
				}
			}
		}
	}
	return dilated
}

// component is one 8-connected foreground region.
type component struct {
	area     int
	sumX     int64
	sumY     int64
	bbox     image.Rectangle
	start    image.Point // topmost-leftmost pixel, boundary trace anchor
	labelIdx int
}

// labelComponents finds 8-connected components with an explicit stack flood
// fill. Labels start at 1 in the returned grid.
func labelComponents(b *binary) ([]component, []int32) {
	labels := make([]int32, b.w*b.h)
	var comps []component
	var stack []image.Point

	next := int32(1)
	for y := 0; y < b.h; y++ {
		for x := 0; x < b.w; x++ {
			if b.at(x, y) == 0 || labels[y*b.w+x] != 0 {
				continue
			}
			c := component{
				bbox:     image.Rect(x, y, x+1, y+1),
				start:    image.Pt(x, y),
				labelIdx: int(next),
			}
			stack = append(stack[:0], image.Pt(x, y))
			labels[y*b.w+x] = next
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]

				c.area++
				c.sumX += int64(p.X)
				c.sumY += int64(p.Y)
				c.bbox = c.bbox.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))

				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						nx, ny := p.X+dx, p.Y+dy
						if nx < 0 || ny < 0 || nx >= b.w || ny >= b.h {
							continue
						}
						if b.at(nx, ny) == 1 && labels[ny*b.w+nx] == 0 {
							labels[ny*b.w+nx] = next
							stack = append(stack, image.Pt(nx, ny))
						}
					}
				}
			}
			comps = append(comps, c)
			next++
		}
	}
	return comps, labels
}

// mooreDirs enumerates the 8-neighborhood clockwise starting north.
var mooreDirs = [8]image.Point{
	{0, -1}, {1, -1}, {1, 0}, {1, 1},
	{0, 1}, {-1, 1}, {-1, 0}, {-1, -1},
}

// tracePerimeter walks the outer boundary of a component with Moore
// neighbor tracing and returns the boundary length, counting orthogonal
// steps as 1 and diagonal steps as sqrt(2). Single-pixel components have
// zero perimeter.
func tracePerimeter(labels []int32, w, h int, c component) float64 {
	label := int32(c.labelIdx)
	inside := func(p image.Point) bool {
		return p.X >= 0 && p.Y >= 0 && p.X < w && p.Y < h && labels[p.Y*w+p.X] == label
	}

	start := c.start
	// The start pixel is topmost-leftmost, so entry comes from the north.
	dir := 0
	cur := start
	perimeter := 0.0
	maxSteps := 4 * (c.area + 4)

	firstMove := -1
	for step := 0; step < maxSteps; step++ {
		found := -1
		// Scan clockwise beginning just past the backtrack direction.
		for i := 0; i < 8; i++ {
			d := (dir + 6 + i) % 8
			n := cur.Add(mooreDirs[d])
			if inside(n) {
				found = d
				break
			}
		}
		if found < 0 {
			return 0 // isolated pixel
		}
		if cur == start {
			if firstMove < 0 {
				firstMove = found
			} else if found == firstMove {
				break // closed the loop
			}
		}
		cur = cur.Add(mooreDirs[found])
		if mooreDirs[found].X != 0 && mooreDirs[found].Y != 0 {
			perimeter += math.Sqrt2
		} else {
			perimeter++
		}
		dir = found
	}
	return perimeter
}
