// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package render

import (
	"errors"
	"image"
	"math"
)

var ErrInvalidBox = errors.New("invalid geographic bounding box")

// Box is the geographic area covered by the provider tiles, in degrees.
type Box struct {
	West  float64
	South float64
	East  float64
	North float64
}

// Validate checks that the box is non-empty and inside the Mercator latitude range.
func (b Box) Validate() error {
	if b.West >= b.East || b.South >= b.North {
		return ErrInvalidBox
	}
	if b.South <= -85.06 || b.North >= 85.06 {
		return ErrInvalidBox
	}
	return nil
}

// View is the pan and zoom state. CenterX and CenterY offset the box centre from the canvas
// centre in pixels. Zoom is the number of pixels per world unit; the box spans two world
// units vertically.
type View struct {
	CenterX float64
	CenterY float64
	Zoom    float64
}

// Projection maps between geographic coordinates and canvas pixels for a fixed box.
type Projection struct {
	width, height float64
	xc, yc        float64
	k             float64
}

// NewProjection returns the projection of box onto a width×height canvas.
func NewProjection(box Box, width, height int) Projection {
	xw, xe := mercX(box.West), mercX(box.East)
	ys, yn := mercY(box.South), mercY(box.North)
	return Projection{
		width:  float64(width),
		height: float64(height),
		xc:     (xw + xe) / 2,
		yc:     (ys + yn) / 2,
		k:      2 / (yn - ys),
	}
}

// Project returns the canvas pixel of the given latitude and longitude.
func (p Projection) Project(v View, lat, lng float64) (float64, float64) {
	u := (mercX(lng) - p.xc) * p.k
	w := (p.yc - mercY(lat)) * p.k
	return p.width/2 + v.CenterX + u*v.Zoom, p.height/2 + v.CenterY + w*v.Zoom
}

// World returns the world coordinate under a canvas pixel.
func (p Projection) World(v View, px, py float64) (float64, float64) {
	if v.Zoom == 0 {
		return 0, 0
	}
	return (px - p.width/2 - v.CenterX) / v.Zoom, (py - p.height/2 - v.CenterY) / v.Zoom
}

// Unproject returns the latitude and longitude under a canvas pixel.
func (p Projection) Unproject(v View, px, py float64) (float64, float64) {
	u, w := p.World(v, px, py)
	x := u/p.k + p.xc
	y := p.yc - w/p.k
	lat := (2*math.Atan(math.Exp(y)) - math.Pi/2) * 180 / math.Pi
	return lat, x * 180 / math.Pi
}

// Rect returns the canvas rectangle covered by box, which is where tiles are drawn.
func (p Projection) Rect(v View, box Box) image.Rectangle {
	x0, y0 := p.Project(v, box.North, box.West)
	x1, y1 := p.Project(v, box.South, box.East)
	return image.Rect(int(math.Round(x0)), int(math.Round(y0)), int(math.Round(x1)), int(math.Round(y1)))
}

func mercX(lng float64) float64 {
	return lng * math.Pi / 180
}

func mercY(lat float64) float64 {
	return math.Log(math.Tan(math.Pi/4 + lat*math.Pi/360))
}

// FitView returns the view that fits the box height into a canvas of the given height.
func FitView(height int) View {
	return View{Zoom: float64(height) / 2}
}
