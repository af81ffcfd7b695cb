package geo

import (
	"math"
	"sort"
	"sync"
)

// CellHit pairs an indexed cell with its distance from a search point.
type CellHit struct {
	Geohash    string
	DistanceKm float64
}

// CellIndex is an in-memory spatial index over full-precision geohash cells.
// Each cell is stored with a reference point (for aggregate buckets, the
// position of the first reading) and is also filed under every shorter prefix
// of its hash, so a proximity search can pick whichever coarse level matches
// the search radius and only inspect the 3x3 block of cells around the query.
//
// Go Learning Note — sync.RWMutex:
// RWMutex provides read-write locking. Multiple goroutines can hold a read lock
// simultaneously (RLock), but a write lock (Lock) is exclusive. This is perfect
// for data structures with many readers and few writers — like a spatial index
// that's queried constantly but only grows when a new cell is first seen.
//
// Go Learning Note — Nested Maps:
// byPrefix is a slice of two-level maps: byPrefix[n] maps a prefix of length n
// to the set of full hashes under it. Go maps must be initialized with make()
// before use; a nil map will panic on write (but reads return the zero value).
type CellIndex struct {
	mu        sync.RWMutex
	precision int
	points    map[string][2]float64            // geohash -> {lat, lon}
	byPrefix  []map[string]map[string]struct{} // prefix length -> prefix -> geohashes
}

// NewCellIndex creates an empty index for hashes of the given precision.
func NewCellIndex(precision int) *CellIndex {
	precision = clampPrecision(precision)
	byPrefix := make([]map[string]map[string]struct{}, precision+1)
	for i := 1; i <= precision; i++ {
		byPrefix[i] = make(map[string]map[string]struct{})
	}
	return &CellIndex{
		precision: precision,
		points:    make(map[string][2]float64),
		byPrefix:  byPrefix,
	}
}

// Add files a cell under its prefixes with its reference point. The first
// point recorded for a cell wins; later calls for the same hash are no-ops.
// It returns true when the cell was new.
func (x *CellIndex) Add(hash string, lat, lon float64) bool {
	if len(hash) != x.precision {
		return false
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, exists := x.points[hash]; exists {
		return false
	}
	x.points[hash] = [2]float64{lat, lon}
	for n := 1; n <= x.precision; n++ {
		prefix := hash[:n]
		cells, ok := x.byPrefix[n][prefix]
		if !ok {
			cells = make(map[string]struct{})
			x.byPrefix[n][prefix] = cells
		}
		cells[hash] = struct{}{}
	}
	return true
}

// Len returns the number of indexed cells.
func (x *CellIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.points)
}

// Within returns every indexed cell whose reference point lies within
// radiusKm of (lat, lon), nearest first.
//
// Strategy: Coarse filter → Fine filter
//  1. Coarse: pick the longest prefix whose cells are at least radiusKm tall
//     and wide, then take the 3x3 block around the query at that level.
//  2. Fine: compute the exact great-circle distance to each candidate's
//     reference point and keep those within the radius.
//  3. Sort results by distance (nearest first).
//
// When no prefix level is coarse enough the whole index is scanned.
func (x *CellIndex) Within(lat, lon, radiusKm float64) []CellHit {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var hits []CellHit
	consider := func(hash string) {
		p := x.points[hash]
		if d := DistanceKm(lat, lon, p[0], p[1]); d <= radiusKm {
			hits = append(hits, CellHit{Geohash: hash, DistanceKm: d})
		}
	}

	level := x.coarseLevel(lat, radiusKm)
	if level == 0 {
		for hash := range x.points {
			consider(hash)
		}
	} else {
		seen := make(map[string]struct{}, 9)
		for _, prefix := range AllNeighbors(Encode(lat, lon, level)) {
			if _, dup := seen[prefix]; dup {
				continue
			}
			seen[prefix] = struct{}{}
			for hash := range x.byPrefix[level][prefix] {
				consider(hash)
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceKm == hits[j].DistanceKm {
			return hits[i].Geohash < hits[j].Geohash
		}
		return hits[i].DistanceKm < hits[j].DistanceKm
	})
	return hits
}

// coarseLevel returns the longest prefix length whose cell height and width,
// measured at the poleward edge of the search circle, are both at least
// radiusKm. Zero means no level qualifies or the circle reaches a pole.
func (x *CellIndex) coarseLevel(lat, radiusKm float64) int {
	edge := math.Abs(lat) + radiusKm/kmPerDegreeLat
	if edge >= 89.9 {
		return 0
	}
	cosEdge := math.Cos(edge * math.Pi / 180)
	for n := x.precision; n >= 1; n-- {
		h, w := CellSize(n)
		if h*kmPerDegreeLat >= radiusKm && w*kmPerDegreeLat*cosEdge >= radiusKm {
			return n
		}
	}
	return 0
}
