// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package timeline

import (
	"sync"
)

// Range is a closed interval of millisecond timestamps.
type Range struct {
	Min int64
	Max int64
}

func (r Range) Contains(t int64) bool {
	return t >= r.Min && t <= r.Max
}

// Bounds tracks the navigable time range. It is unknown until the first Recompute.
type Bounds struct {
	mu    sync.RWMutex
	r     Range
	known bool
}

// Recompute replaces the range with the min and max of keys. Calling it without keys leaves
// the bounds untouched.
func (b *Bounds) Recompute(keys ...int64) {
	if len(keys) == 0 {
		return
	}
	lo, hi := keys[0], keys[0]
	for _, k := range keys[1:] {
		lo = min(lo, k)
		hi = max(hi, k)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.r = Range{Min: lo, Max: hi}
	b.known = true
}

// ExtendMin lowers the minimum to ts. It never raises it.
func (b *Bounds) ExtendMin(ts int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known {
		b.r = Range{Min: ts, Max: ts}
		b.known = true
		return
	}
	if ts < b.r.Min {
		b.r.Min = ts
	}
}

// Get returns the current range and whether it is known.
func (b *Bounds) Get() (Range, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.r, b.known
}

// Clamp restricts t to the range. While the range is unknown t is returned unchanged.
func (b *Bounds) Clamp(t int64) int64 {
	r, ok := b.Get()
	if !ok {
		return t
	}
	return min(max(t, r.Min), r.Max)
}
