// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"
	"math"
	"sync"
	"time"
)

// coordPrecision is the precision used to quantize coordinates (0.01 degrees ≈ 1.1 km)
const coordPrecision = 1e-2

type cacheKey struct {
	latQ int32
	lngQ int32
}

type cacheEntry struct {
	place  Place
	expiry time.Time
}

// CachedGeocoder remembers lookups per ~1 km cell. Places that were not found expire after
// ttlMiss, found ones after ttlHit.
type CachedGeocoder struct {
	coder   Geocoder
	ttlHit  time.Duration
	ttlMiss time.Duration

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

func NewCachedGeocoder(coder Geocoder, ttlHit, ttlMiss time.Duration) *CachedGeocoder {
	return &CachedGeocoder{
		coder:   coder,
		ttlHit:  ttlHit,
		ttlMiss: ttlMiss,
		cache:   make(map[cacheKey]cacheEntry),
	}
}

func (c *CachedGeocoder) Name() string {
	return "geocoder cache using " + c.coder.Name()
}

func (c *CachedGeocoder) Reverse(ctx context.Context, lat, lng float64) (Place, error) {
	key := cacheKey{latQ: quantizeCoord(lat), lngQ: quantizeCoord(lng)}

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiry) {
		place := entry.place
		place.CacheHit = true
		return place, nil
	}

	place, err := c.coder.Reverse(ctx, lat, lng)
	if err != nil {
		return place, err
	}

	ttl := c.ttlHit
	if !place.Found {
		ttl = c.ttlMiss
	}
	c.mu.Lock()
	c.cache[key] = cacheEntry{place: place, expiry: time.Now().Add(ttl)}
	c.mu.Unlock()

	return place, nil
}

func quantizeCoord(val float64) int32 {
	return int32(math.Round(val / coordPrecision))
}
