package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	colGreen = color.RGBA{0, 255, 0, 255}
	colRed   = color.RGBA{255, 0, 0, 255}
	colGray  = color.RGBA{128, 128, 128, 255}
	colAmber = color.RGBA{255, 255, 0, 255}
)

// annotate renders the operator overlay onto a copy of the frame: the image
// center crosshair, the deadzone circle, every candidate, and the accepted
// beacon with its pixel offset from center.
func annotate(frame image.Image, candidates []Candidate, best *Candidate,
	deadzonePx int, fps float64, threshold int) *image.RGBA {

	bounds := frame.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, frame, bounds.Min, draw.Src)

	cx := bounds.Min.X + bounds.Dx()/2
	cy := bounds.Min.Y + bounds.Dy()/2

	drawLine(out, image.Pt(cx-20, cy), image.Pt(cx+20, cy), colGreen)
	drawLine(out, image.Pt(cx, cy-20), image.Pt(cx, cy+20), colGreen)
	drawCircle(out, image.Pt(cx, cy), deadzonePx, colGreen)

	for i := range candidates {
		drawCircle(out, candidates[i].Center, 5, colGray)
	}

	if best != nil {
		drawRect(out, best.BBox, colRed)
		fillCircle(out, best.Center, 8, colRed)
		drawLine(out, image.Pt(cx, cy), best.Center, colRed)
		drawText(out, image.Pt(bounds.Min.X+10, bounds.Min.Y+30),
			fmt.Sprintf("dX:%d dY:%d", best.Center.X-cx, best.Center.Y-cy), colRed)
	}

	drawText(out, image.Pt(bounds.Min.X+10, bounds.Max.Y-10),
		fmt.Sprintf("FPS: %.1f", fps), colGreen)
	drawText(out, image.Pt(bounds.Max.X-120, bounds.Min.Y+30),
		fmt.Sprintf("Thresh: %d", threshold), colAmber)

	return out
}

// drawLine draws a 1 px Bresenham line.
func drawLine(img *image.RGBA, a, b image.Point, c color.RGBA) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		setPixel(img, x, y, c)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// drawCircle draws a 1 px circle outline by midpoint stepping.
func drawCircle(img *image.RGBA, center image.Point, r int, c color.RGBA) {
	if r <= 0 {
		return
	}
	x, y := r, 0
	err := 1 - r
	for x >= y {
		for _, p := range [8]image.Point{
			{x, y}, {y, x}, {-y, x}, {-x, y},
			{-x, -y}, {-y, -x}, {y, -x}, {x, -y},
		} {
			setPixel(img, center.X+p.X, center.Y+p.Y, c)
		}
		y++
		if err < 0 {
			err += 2*y + 1
		} else {
			x--
			err += 2*(y-x) + 1
		}
	}
}

func fillCircle(img *image.RGBA, center image.Point, r int, c color.RGBA) {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				setPixel(img, center.X+dx, center.Y+dy, c)
			}
		}
	}
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	drawLine(img, r.Min, image.Pt(r.Max.X-1, r.Min.Y), c)
	drawLine(img, image.Pt(r.Max.X-1, r.Min.Y), image.Pt(r.Max.X-1, r.Max.Y-1), c)
	drawLine(img, image.Pt(r.Max.X-1, r.Max.Y-1), image.Pt(r.Min.X, r.Max.Y-1), c)
	drawLine(img, image.Pt(r.Min.X, r.Max.Y-1), r.Min, c)
}

func drawText(img *image.RGBA, at image.Point, s string, c color.RGBA) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(at.X, at.Y),
	}
	d.DrawString(s)
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Rect) {
		img.SetRGBA(x, y, c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
