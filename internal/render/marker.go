// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package render

import (
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

const (
	hueStep        = 60
	circleSegments = 32
)

// persistedOpacity scales the alpha of a marker restored from disk.
var persistedOpacity = 0.5

// Marker is a known location drawn on top of the map.
type Marker struct {
	Lat, Lng float64
	// Persisted marks the last known location restored from disk.
	Persisted bool
}

// MarkerColor returns the colour of the marker at index.
func MarkerColor(index int, persisted bool) color.NRGBA {
	hue := float64((index * hueStep) % 360)
	r, g, b := colorful.Hsv(hue, 0.9, 1).Clamped().RGB255()
	alpha := uint8(255)
	if persisted {
		alpha = uint8(math.Round(255 * persistedOpacity))
	}
	return color.NRGBA{R: r, G: g, B: b, A: alpha}
}

func markerRadius(bounds image.Rectangle) int {
	return max(4, min(bounds.Dx(), bounds.Dy())/40)
}

// drawMarker paints a crosshair inside a ring centred on (cx, cy).
func drawMarker(dst draw.Image, cx, cy, index int, persisted bool, radius int) {
	size := 2*radius + 3
	origin := image.Pt(cx-size/2, cy-size/2)
	if !image.Rect(origin.X, origin.Y, origin.X+size, origin.Y+size).Overlaps(dst.Bounds()) {
		return
	}

	z := vector.NewRasterizer(size, size)
	c := float32(size) / 2
	outer := float32(radius)
	inner := outer - max(1, outer/4)
	half := max(0.5, outer/10)

	ring(z, c, c, outer, false)
	ring(z, c, c, inner, true)
	rectPath(z, c-half, 0, c+half, c-inner/2)
	rectPath(z, c-half, c+inner/2, c+half, float32(size))
	rectPath(z, 0, c-half, c-inner/2, c+half)
	rectPath(z, c+inner/2, c-half, float32(size), c+half)

	src := image.NewUniform(MarkerColor(index, persisted))
	z.Draw(dst, image.Rect(origin.X, origin.Y, origin.X+size, origin.Y+size), src, image.Point{})
}

// ring adds a circle path. A reversed circle punches a hole into a forward one.
func ring(z *vector.Rasterizer, cx, cy, r float32, reverse bool) {
	for i := 0; i <= circleSegments; i++ {
		step := i
		if reverse {
			step = circleSegments - i
		}
		a := 2 * math.Pi * float64(step) / circleSegments
		x := cx + r*float32(math.Cos(a))
		y := cy + r*float32(math.Sin(a))
		if i == 0 {
			z.MoveTo(x, y)
			continue
		}
		z.LineTo(x, y)
	}
	z.ClosePath()
}

func rectPath(z *vector.Rasterizer, x0, y0, x1, y1 float32) {
	z.MoveTo(x0, y0)
	z.LineTo(x1, y0)
	z.LineTo(x1, y1)
	z.LineTo(x0, y1)
	z.ClosePath()
}
