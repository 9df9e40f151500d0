// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package render

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const labelPadding = 4

var labelBackground = color.NRGBA{A: 160}

// Label writes text into the bottom left corner of dst on a translucent backdrop.
func Label(dst draw.Image, text string) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
	}
	bounds := dst.Bounds()
	width := drawer.MeasureString(text).Ceil()
	height := face.Metrics().Height.Ceil()

	box := image.Rect(bounds.Min.X, bounds.Max.Y-height-2*labelPadding,
		bounds.Min.X+width+2*labelPadding, bounds.Max.Y)
	draw.Draw(dst, box, image.NewUniform(labelBackground), image.Point{}, draw.Over)

	drawer.Dot = fixed.P(box.Min.X+labelPadding, box.Max.Y-labelPadding-face.Descent)
	drawer.DrawString(text)
}
