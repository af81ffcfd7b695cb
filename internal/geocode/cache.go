package geocode

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"noisemap/internal/geo"
	"noisemap/internal/metrics"
)

// cacheEntry remembers unresolved answers too, so readings from the open sea
// do not hit the upstream every time.
type cacheEntry struct {
	place      Place
	unresolved bool
}

// Cached memoizes another resolver per geohash cell. At precision 5 a cell
// is about 5 km across, small enough that a cell rarely straddles a city
// boundary and large enough that a city is a handful of entries.
type Cached struct {
	next      ReverseGeocoder
	precision int
	entries   *expirable.LRU[string, cacheEntry]
}

func NewCached(next ReverseGeocoder, size int, ttl time.Duration, precision int) *Cached {
	return &Cached{
		next:      next,
		precision: precision,
		entries:   expirable.NewLRU[string, cacheEntry](size, nil, ttl),
	}
}

// Resolve answers from the cache when it can. Errors other than
// ErrUnresolved are not cached.
func (c *Cached) Resolve(ctx context.Context, lat, lon float64) (Place, error) {
	key := geo.Encode(lat, lon, c.precision)
	if e, ok := c.entries.Get(key); ok {
		metrics.RecordGeocode(metrics.ResultHit)
		if e.unresolved {
			return Place{}, ErrUnresolved
		}
		return e.place, nil
	}

	place, err := c.next.Resolve(ctx, lat, lon)
	switch {
	case err == nil:
		c.entries.Add(key, cacheEntry{place: place})
	case errors.Is(err, ErrUnresolved):
		c.entries.Add(key, cacheEntry{unresolved: true})
	}
	return place, err
}

// Len returns the number of cached cells.
func (c *Cached) Len() int {
	return c.entries.Len()
}
