package memory

import (
	"context"
	"sort"
	"sync"

	"noisemap/internal/domain/entities"
	"noisemap/internal/geo"
)

// AggregateRepository stores hourly buckets with a secondary spatial index
// for radius queries. It maintains two data structures:
//   - buckets: geohash → unix hour → bucket (exact lookup by key)
//   - cells: a geo.CellIndex over every geohash that has ever had a bucket
//
// This dual-index pattern is common when you need fast lookups by two
// different keys. Buckets are never removed, so the spatial index only grows
// and never has to be kept in sync with deletions.
type AggregateRepository struct {
	mu        sync.RWMutex
	precision int
	buckets   map[string]map[int64]*entities.AggregateBucket // geohash → hour → bucket
	cells     *geo.CellIndex
}

func NewAggregateRepository(precision int) *AggregateRepository {
	return &AggregateRepository{
		precision: precision,
		buckets:   make(map[string]map[int64]*entities.AggregateBucket),
		cells:     geo.NewCellIndex(precision),
	}
}

// Increment performs the upsert under the write lock, which makes the
// read-modify-write atomic with respect to every other caller.
//
// Go Learning Note — time.Time as a map key:
// time.Time values compare with == on their wall clock, monotonic reading and
// *Location pointer, so two equal instants can be different map keys. Keying
// by the Unix second of the hour avoids that trap.
func (r *AggregateRepository) Increment(ctx context.Context, key entities.BucketKey, noise float64, center entities.Location) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hour := key.TimeBucket.Unix()

	r.mu.Lock()
	defer r.mu.Unlock()

	hours, ok := r.buckets[key.Geohash]
	if !ok {
		hours = make(map[int64]*entities.AggregateBucket)
		r.buckets[key.Geohash] = hours
	}

	if b, exists := hours[hour]; exists {
		b.SumNoise += noise
		b.Count++
		return nil
	}

	hours[hour] = &entities.AggregateBucket{
		Key:      entities.BucketKey{Geohash: key.Geohash, TimeBucket: key.TimeBucket.UTC()},
		SumNoise: noise,
		Count:    1,
		Center:   center,
	}
	r.cells.Add(key.Geohash, center.Latitude, center.Longitude)
	return nil
}

// FindNear uses the cell index as a coarse filter, widened by one cell
// diagonal because bucket centers can sit anywhere inside their cell, then
// keeps buckets whose own center is within the radius.
func (r *AggregateRepository) FindNear(ctx context.Context, center entities.Location, radiusMeters float64, window entities.TimeWindow) ([]entities.NearbyBucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	radiusKm := radiusMeters / 1000
	hits := r.cells.Within(center.Latitude, center.Longitude, radiusKm+geo.CellDiagonalKm(r.precision))

	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []entities.NearbyBucket
	for _, hit := range hits {
		for _, b := range r.buckets[hit.Geohash] {
			if !window.Contains(b.Key.TimeBucket) {
				continue
			}
			d := geo.DistanceKm(center.Latitude, center.Longitude, b.Center.Latitude, b.Center.Longitude) * 1000
			if d <= radiusMeters {
				result = append(result, entities.NearbyBucket{AggregateBucket: *b, DistanceMeters: d})
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].DistanceMeters != result[j].DistanceMeters {
			return result[i].DistanceMeters < result[j].DistanceMeters
		}
		return result[i].Key.TimeBucket.Before(result[j].Key.TimeBucket)
	})
	return result, nil
}

// FindByGeohashes is an O(1) lookup per requested cell plus an O(k) scan of
// that cell's hours.
func (r *AggregateRepository) FindByGeohashes(ctx context.Context, hashes []string, window entities.TimeWindow) ([]entities.AggregateBucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []entities.AggregateBucket
	seen := make(map[string]bool, len(hashes))
	for _, gh := range hashes {
		if seen[gh] {
			continue
		}
		seen[gh] = true
		for _, b := range r.buckets[gh] {
			if window.Contains(b.Key.TimeBucket) {
				result = append(result, *b)
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Key.Geohash != result[j].Key.Geohash {
			return result[i].Key.Geohash < result[j].Key.Geohash
		}
		return result[i].Key.TimeBucket.Before(result[j].Key.TimeBucket)
	})
	return result, nil
}

// Get returns a copy of one bucket, or false when it does not exist.
func (r *AggregateRepository) Get(key entities.BucketKey) (entities.AggregateBucket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.buckets[key.Geohash][key.TimeBucket.Unix()]
	if !ok {
		return entities.AggregateBucket{}, false
	}
	return *b, true
}

// Len returns the number of buckets.
//
// Go Learning Note — Ranging over a nil map:
// r.buckets[gh] returns a nil inner map for unknown cells. Reading from and
// ranging over a nil map is legal in Go and simply yields nothing, which keeps
// the lookups above free of existence checks.
func (r *AggregateRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, hours := range r.buckets {
		n += len(hours)
	}
	return n
}
