// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package frame names nowcast frames. It converts points in time into the provider's frame
// strings and tile URLs and defines the loaded Frame handle shared by the cache and renderer.
package frame

import (
	"fmt"
	"image"
	"math"
	"time"
)

// Step is the spacing of the provider's frame grid.
const Step = 5 * time.Minute

// Family identifies one of the independently cached layer families.
type Family int

const (
	Cloud Family = iota
	Rain
	Forecast
)

// Families lists every Family in cache order.
var Families = []Family{Cloud, Rain, Forecast}

func (f Family) String() string {
	switch f {
	case Cloud:
		return "cloud"
	case Rain:
		return "rain"
	case Forecast:
		return "forecast"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Frame is a decoded tile image. It is never mutated after construction.
type Frame struct {
	Image  image.Image
	Width  int
	Height int
}

// New wraps a decoded image and records its natural dimensions.
func New(img image.Image) *Frame {
	b := img.Bounds()
	return &Frame{Image: img, Width: b.Dx(), Height: b.Dy()}
}

// Millis returns t as integer milliseconds since the epoch, the cache key unit.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts a cache key back into a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// RoundDown truncates t to the 5-minute frame grid.
func RoundDown(t time.Time) time.Time {
	return t.Truncate(Step)
}

// RoundDownMillis truncates a millisecond key to the 5-minute frame grid.
func RoundDownMillis(ms int64) int64 {
	step := Step.Milliseconds()
	return int64(math.Floor(float64(ms)/float64(step))) * step
}
