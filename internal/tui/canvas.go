// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package tui

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const halfBlock = "▀"

// backdrop is the colour behind transparent pixels.
var backdrop = color.RGBA{R: 0x10, G: 0x14, B: 0x1c, A: 0xff}

type cellColors struct {
	top, bottom color.RGBA
}

// halfBlocks turns img into terminal lines. Every cell shows two vertically stacked pixels: the
// upper one as foreground of an upper half block, the lower one as background. Runs of equal
// cells share one style.
func halfBlocks(img *image.RGBA) []string {
	b := img.Bounds()
	lines := make([]string, 0, (b.Dy()+1)/2)
	styles := make(map[cellColors]lipgloss.Style)
	var sb strings.Builder

	for y := b.Min.Y; y < b.Max.Y; y += 2 {
		sb.Reset()
		run, runLen := cellColors{}, 0
		flush := func() {
			if runLen == 0 {
				return
			}
			style, ok := styles[run]
			if !ok {
				style = lipgloss.NewStyle().
					Foreground(lipgloss.Color(hex(run.top))).
					Background(lipgloss.Color(hex(run.bottom)))
				styles[run] = style
			}
			sb.WriteString(style.Render(strings.Repeat(halfBlock, runLen)))
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			cell := cellColors{top: opaque(img.RGBAAt(x, y))}
			if y+1 < b.Max.Y {
				cell.bottom = opaque(img.RGBAAt(x, y+1))
			} else {
				cell.bottom = backdrop
			}
			if cell != run {
				flush()
				run, runLen = cell, 0
			}
			runLen++
		}
		flush()
		lines = append(lines, sb.String())
	}
	return lines
}

// opaque composites a premultiplied pixel over the backdrop.
func opaque(c color.RGBA) color.RGBA {
	inv := 0xff - uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) + uint32(backdrop.R)*inv/0xff),
		G: uint8(uint32(c.G) + uint32(backdrop.G)*inv/0xff),
		B: uint8(uint32(c.B) + uint32(backdrop.B)*inv/0xff),
		A: 0xff,
	}
}

func hex(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
