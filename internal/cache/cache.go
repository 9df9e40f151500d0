// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package cache

import (
	"slices"
	"sync"

	"github.com/wneessen/nowcast/internal/frame"
)

// LayerCache maps (family, timestamp) to loaded frames. The first frame stored under a key is
// kept for the lifetime of the cache unless Prune removes it.
type LayerCache struct {
	mu     sync.RWMutex
	layers map[frame.Family]map[int64]*frame.Frame
}

func New() *LayerCache {
	layers := make(map[frame.Family]map[int64]*frame.Frame, len(frame.Families))
	for _, f := range frame.Families {
		layers[f] = make(map[int64]*frame.Frame)
	}
	return &LayerCache{layers: layers}
}

func (c *LayerCache) Get(family frame.Family, ts int64) (*frame.Frame, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.layers[family][ts]
	return f, ok
}

func (c *LayerCache) Has(family frame.Family, ts int64) bool {
	_, ok := c.Get(family, ts)
	return ok
}

// Put stores f under (family, ts) unless the key is already present. It reports whether the
// frame was inserted.
func (c *LayerCache) Put(family frame.Family, ts int64, f *frame.Frame) bool {
	if f == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	layer, ok := c.layers[family]
	if !ok {
		return false
	}
	if _, exists := layer[ts]; exists {
		return false
	}
	layer[ts] = f
	return true
}

// Keys returns the timestamps cached for family in ascending order.
func (c *LayerCache) Keys(family frame.Family) []int64 {
	c.mu.RLock()
	keys := make([]int64, 0, len(c.layers[family]))
	for ts := range c.layers[family] {
		keys = append(keys, ts)
	}
	c.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// AllKeys returns the ascending, de-duplicated union of the given families' keys, or of all
// families when none are given.
func (c *LayerCache) AllKeys(families ...frame.Family) []int64 {
	if len(families) == 0 {
		families = frame.Families
	}
	var keys []int64
	for _, f := range families {
		keys = append(keys, c.Keys(f)...)
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}

func (c *LayerCache) Len(family frame.Family) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.layers[family])
}

// Oldest returns the smallest timestamp cached for family.
func (c *LayerCache) Oldest(family frame.Family) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var oldest int64
	found := false
	for ts := range c.layers[family] {
		if !found || ts < oldest {
			oldest, found = ts, true
		}
	}
	return oldest, found
}

// Prune drops every frame older than before and returns how many were removed.
func (c *LayerCache) Prune(before int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for _, layer := range c.layers {
		for ts := range layer {
			if ts < before {
				delete(layer, ts)
				removed++
			}
		}
	}
	return removed
}
