// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package interaction turns pointer and wheel input into pan, zoom and time-scrub motion with
// inertia.
package interaction

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/wneessen/nowcast/internal/render"
	"github.com/wneessen/nowcast/internal/timeline"
)

const (
	// DefaultDamping is the per-tick velocity decay factor.
	DefaultDamping = 0.9
	// TimePerPixel is how far one pixel of horizontal drag moves the time cursor.
	TimePerPixel = 15 * time.Second

	historySize     = 50
	inertiaSamples  = 5
	pinchFactor     = 4
	minZoom         = 1
	velocityEpsilon = 1e-6
)

// Pointer is a pointer event. ID distinguishes simultaneous pointers.
type Pointer struct {
	ID     int
	X, Y   float64
	Button int
	Shift  bool
	At     time.Time
}

type point struct {
	id   int
	x, y float64
}

type sample struct {
	at   time.Time
	view render.View
	time int64
	set  bool
}

type velocity struct {
	centerX, centerY float64
	zoom             float64
	time             float64
}

// Driver owns the view and the motion state. It moves the shared time cursor within bounds.
type Driver struct {
	mu sync.Mutex

	cursor *timeline.Cursor
	bounds *timeline.Bounds

	view     render.View
	speed    velocity
	pointers []point
	distance float64
	pinching bool
	history  []sample

	width, height float64
	sized         bool
	panMode       bool
	damping       float64
	lastTick      time.Time
}

// New returns a Driver with the default damping. A damping outside (0, 1) falls back to the
// default.
func New(cursor *timeline.Cursor, bounds *timeline.Bounds, damping float64) *Driver {
	if damping <= 0 || damping >= 1 {
		damping = DefaultDamping
	}
	return &Driver{
		cursor:  cursor,
		bounds:  bounds,
		damping: damping,
	}
}

// View returns the current pan and zoom state.
func (d *Driver) View() render.View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}

// Resize sets the canvas size. The first call fits the box height to the canvas.
func (d *Driver) Resize(width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.width, d.height = float64(width), float64(height)
	if !d.sized {
		d.view.Zoom = d.height / 2
		d.sized = true
	}
}

func (d *Driver) PanMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.panMode
}

// TogglePanMode switches single-pointer drags between scrubbing time and panning. It returns
// the new mode.
func (d *Driver) TogglePanMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.panMode = !d.panMode
	return d.panMode
}

func (d *Driver) SetPanMode(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.panMode = enabled
}

// PointerDown registers a pressed primary pointer. The first pointer of a gesture stops any
// inertia.
func (d *Driver) PointerDown(p Pointer) {
	if p.Button != 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pointers) == 0 {
		d.history = d.history[:0]
		d.speed = velocity{}
	}
	if i := d.pointerIndex(p.ID); i >= 0 {
		d.pointers[i] = point{id: p.ID, x: p.X, y: p.Y}
		return
	}
	d.pointers = append(d.pointers, point{id: p.ID, x: p.X, y: p.Y})
}

// PointerMove applies the motion of a registered pointer. Moves of unknown pointers are ignored.
func (d *Driver) PointerMove(p Pointer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.pointerIndex(p.ID)
	if i < 0 {
		return
	}

	count := float64(len(d.pointers))
	dx := (d.pointers[i].x - p.X) / count
	dy := (d.pointers[i].y - p.Y) / count
	d.pointers[i].x, d.pointers[i].y = p.X, p.Y

	var shift, panX, panY float64
	if len(d.pointers) == 1 && p.Shift == d.panMode {
		shift = dx
	} else {
		panX, panY = dx, dy
	}

	if len(d.pointers) > 1 {
		p1, p2 := d.pointers[0], d.pointers[1]
		dist := math.Hypot(p1.x-p2.x, p1.y-p2.y)
		if !d.pinching {
			d.distance, d.pinching = dist, true
			return
		}
		delta := (dist - d.distance) / d.width
		d.distance = dist
		d.rescale(-delta*pinchFactor, (p1.x+p2.x)/2, (p1.y+p2.y)/2)
	}

	d.view.CenterX -= panX
	d.view.CenterY -= panY
	if shift != 0 {
		d.cursor.Add(-int64(shift*float64(TimePerPixel.Milliseconds())), d.bounds)
	}

	t, set := d.cursor.Get()
	d.history = append(d.history, sample{at: p.At, view: d.view, time: t, set: set})
	if len(d.history) > historySize {
		d.history = slices.Delete(d.history, 0, len(d.history)-historySize)
	}
}

// PointerUp ends the gesture. With enough motion history the release velocity seeds inertia.
func (d *Driver) PointerUp(Pointer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pointers = d.pointers[:0]
	d.pinching = false

	if len(d.history) > inertiaSamples {
		first, last := d.history[0], d.history[len(d.history)-1]
		dt := float64(last.at.Sub(first.at).Milliseconds())
		if dt > 0 {
			d.speed.centerX = (last.view.CenterX - first.view.CenterX) / dt
			d.speed.centerY = (last.view.CenterY - first.view.CenterY) / dt
			d.speed.zoom = (last.view.Zoom - first.view.Zoom) / dt
			if first.set && last.set {
				d.speed.time = float64(last.time-first.time) / dt
			}
		}
	}
	d.history = d.history[:0]
}

// Wheel zooms around canvas point (x, y). Negative deltaY zooms in.
func (d *Driver) Wheel(deltaY, x, y float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.width == 0 {
		return
	}
	d.rescale(deltaY/d.width, x, y)
}

// Tick advances inertia by dt.
func (d *Driver) Tick(dt time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tick(float64(dt) / float64(time.Millisecond))
}

// Animate advances inertia by the wall time elapsed since the previous call.
func (d *Driver) Animate(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var dt float64
	if !d.lastTick.IsZero() {
		dt = float64(now.Sub(d.lastTick)) / float64(time.Millisecond)
	}
	d.lastTick = now
	d.tick(dt)
}

// Moving reports whether inertia is still in progress.
func (d *Driver) Moving() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speed != velocity{}
}

func (d *Driver) tick(ms float64) {
	d.speed.centerX = decay(d.speed.centerX, d.damping)
	d.speed.centerY = decay(d.speed.centerY, d.damping)
	d.speed.zoom = decay(d.speed.zoom, d.damping)
	d.speed.time = decay(d.speed.time, d.damping)
	if ms <= 0 {
		return
	}

	d.view.CenterX += d.speed.centerX * ms
	d.view.CenterY += d.speed.centerY * ms
	d.view.Zoom = max(minZoom, d.view.Zoom+d.speed.zoom*ms)
	if d.speed.time != 0 {
		d.cursor.Add(int64(math.Round(d.speed.time*ms)), d.bounds)
	} else {
		d.cursor.ClampTo(d.bounds)
	}
}

// rescale changes the zoom by delta while keeping the world point under (x, y) in place.
func (d *Driver) rescale(delta, x, y float64) {
	zoom := d.view.Zoom * (1 - delta)
	if zoom < minZoom {
		return
	}
	d.view.CenterX += (x - d.width/2 - d.view.CenterX) * delta
	d.view.CenterY += (y - d.height/2 - d.view.CenterY) * delta
	d.view.Zoom = zoom
}

func (d *Driver) pointerIndex(id int) int {
	return slices.IndexFunc(d.pointers, func(p point) bool { return p.id == id })
}

func decay(v, damping float64) float64 {
	v *= damping
	if math.Abs(v) < velocityEpsilon {
		return 0
	}
	return v
}
