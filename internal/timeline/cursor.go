// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package timeline

import (
	"sync"
	"time"
)

// Cursor is the time currently displayed. It starts out unset.
type Cursor struct {
	mu  sync.RWMutex
	t   int64
	set bool
}

func (c *Cursor) Get() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t, c.set
}

func (c *Cursor) Set(t int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t, c.set = t, true
}

// Add moves the cursor by delta milliseconds and clamps the result to bounds. It is a no-op
// while the cursor is unset.
func (c *Cursor) Add(delta int64, bounds *Bounds) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.set {
		return 0
	}
	c.t += delta
	if bounds != nil {
		c.t = bounds.Clamp(c.t)
	}
	return c.t
}

// Snap adopts key as the cursor when the cursor is unset or closer than tolerance to key.
// It reports whether the cursor was changed.
func (c *Cursor) Snap(key int64, tolerance time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		diff := c.t - key
		if diff < 0 {
			diff = -diff
		}
		if diff >= tolerance.Milliseconds() {
			return false
		}
	}
	c.t, c.set = key, true
	return true
}

// ClampTo restricts a set cursor to bounds.
func (c *Cursor) ClampTo(bounds *Bounds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		c.t = bounds.Clamp(c.t)
	}
}
