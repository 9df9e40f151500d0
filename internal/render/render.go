// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package render composites cached frames, markers and a caption onto a canvas.
package render

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/wneessen/nowcast/internal/cache"
	"github.com/wneessen/nowcast/internal/frame"
	"github.com/wneessen/nowcast/internal/timeline"
)

// Scene is everything needed to paint one canvas.
type Scene struct {
	Cache       *cache.LayerCache
	Time        int64
	View        View
	Interpolate bool
	// RainOpacity is in percent, 0 hides the rain layer.
	RainOpacity int
	Markers     []Marker
}

// Renderer paints scenes for a fixed geographic box.
type Renderer struct {
	box    Box
	scaler draw.Scaler
}

func New(box Box) (*Renderer, error) {
	if err := box.Validate(); err != nil {
		return nil, err
	}
	return &Renderer{box: box, scaler: draw.BiLinear}, nil
}

func (r *Renderer) Box() Box {
	return r.box
}

// Projection returns the projection for a canvas of the given size.
func (r *Renderer) Projection(width, height int) Projection {
	return NewProjection(r.box, width, height)
}

// Render allocates a width×height canvas and draws scene onto it.
func (r *Renderer) Render(width, height int, scene Scene) (*image.RGBA, bool) {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	return dst, r.Draw(dst, scene)
}

// Draw paints scene onto dst. It leaves dst untouched and returns false while fewer than two
// cloud frames are cached.
func (r *Renderer) Draw(dst draw.Image, scene Scene) bool {
	if scene.Cache == nil {
		return false
	}
	cloudKeys := scene.Cache.Keys(frame.Cloud)
	cloud, err := timeline.Resolve(cloudKeys, scene.Time)
	if err != nil {
		return false
	}

	bounds := dst.Bounds()
	draw.Draw(dst, bounds, image.Transparent, image.Point{}, draw.Src)
	proj := r.Projection(bounds.Dx(), bounds.Dy())
	rect := proj.Rect(scene.View, r.box).Add(bounds.Min)

	prev, _ := scene.Cache.Get(frame.Cloud, cloud.Prev)
	r.layer(dst, rect, prev, 1)
	if scene.Interpolate {
		next, _ := scene.Cache.Get(frame.Cloud, cloud.Next)
		r.layer(dst, rect, next, 1-cloud.Ratio)
	}

	if scene.RainOpacity > 0 {
		r.rain(dst, rect, scene)
	}

	for i, m := range scene.Markers {
		x, y := proj.Project(scene.View, m.Lat, m.Lng)
		drawMarker(dst, bounds.Min.X+int(x), bounds.Min.Y+int(y), i, m.Persisted, markerRadius(bounds))
	}
	return true
}

func (r *Renderer) rain(dst draw.Image, rect image.Rectangle, scene Scene) {
	opacity := float64(scene.RainOpacity) / 100
	keys := scene.Cache.AllKeys(frame.Rain, frame.Forecast)
	switch len(keys) {
	case 0:
		return
	case 1:
		r.layer(dst, rect, rainFrame(scene.Cache, keys[0]), opacity)
		return
	}

	bracket, err := timeline.Resolve(keys, scene.Time)
	if err != nil {
		return
	}
	prevWeight := 1.0
	if scene.Interpolate {
		prevWeight = bracket.Ratio
	}
	r.layer(dst, rect, rainFrame(scene.Cache, bracket.Prev), opacity*prevWeight)
	if scene.Interpolate {
		r.layer(dst, rect, rainFrame(scene.Cache, bracket.Next), opacity*(1-bracket.Ratio))
	}
}

// layer scales f into rect with the given opacity.
func (r *Renderer) layer(dst draw.Image, rect image.Rectangle, f *frame.Frame, alpha float64) {
	if f == nil || alpha <= 0 || rect.Empty() {
		return
	}
	opts := &draw.Options{}
	if alpha < 1 {
		opts.SrcMask = image.NewUniform(color.Alpha{A: uint8(alpha*255 + 0.5)})
	}
	r.scaler.Scale(dst, rect, f.Image, f.Image.Bounds(), draw.Over, opts)
}

// rainFrame prefers the live radar frame over the forecast frame at the same key.
func rainFrame(store *cache.LayerCache, key int64) *frame.Frame {
	if f, ok := store.Get(frame.Rain, key); ok {
		return f
	}
	f, _ := store.Get(frame.Forecast, key)
	return f
}
