// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geocode

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/wneessen/waybar-location/internal/geo"
)

// coordPrecision is the precision used to quantize coordinates (0.0001 degrees ≈ 11 m)
const coordPrecision = 1e-4

type cacheKey struct {
	Provider string
	LatQ     int32
	LonQ     int32
}

type cacheEntry struct {
	Addresses []Address
	Expiry    time.Time
}

// CachedGeocoder memoizes the results of a Geocoder per quantized coordinate. Empty results
// are cached with the shorter miss TTL, errors are never cached.
type CachedGeocoder struct {
	coder   Geocoder
	clock   clockwork.Clock
	ttlHit  time.Duration
	ttlMiss time.Duration

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

func NewCachedGeocoder(coder Geocoder, ttlHit, ttlMiss time.Duration) *CachedGeocoder {
	return newCachedGeocoder(coder, clockwork.NewRealClock(), ttlHit, ttlMiss)
}

func newCachedGeocoder(coder Geocoder, clock clockwork.Clock, ttlHit, ttlMiss time.Duration) *CachedGeocoder {
	return &CachedGeocoder{
		coder:   coder,
		clock:   clock,
		ttlHit:  ttlHit,
		ttlMiss: ttlMiss,
		cache:   make(map[cacheKey]cacheEntry),
	}
}

func (c *CachedGeocoder) Name() string {
	return "geocoder cache using " + c.coder.Name()
}

func (c *CachedGeocoder) Reverse(ctx context.Context, coords geo.Coordinate) ([]Address, error) {
	key := newKey(c.coder.Name(), coords.Lat, coords.Lon)

	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && c.clock.Now().Before(entry.Expiry) {
		addrs := make([]Address, len(entry.Addresses))
		for i, addr := range entry.Addresses {
			addr.CacheHit = true
			addrs[i] = addr
		}
		return addrs, nil
	}

	addrs, err := c.coder.Reverse(ctx, coords)
	if err != nil {
		return addrs, err
	}

	ttl := c.ttlHit
	if len(addrs) == 0 {
		ttl = c.ttlMiss
	}
	c.mu.Lock()
	c.cache[key] = cacheEntry{
		Addresses: addrs,
		Expiry:    c.clock.Now().Add(ttl),
	}
	c.mu.Unlock()

	return addrs, nil
}

func quantizeCoord(val float64) int32 {
	return int32(math.Round(val / coordPrecision))
}

func newKey(provider string, lat, lon float64) cacheKey {
	return cacheKey{
		Provider: provider,
		LatQ:     quantizeCoord(lat),
		LonQ:     quantizeCoord(lon),
	}
}
