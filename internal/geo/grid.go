package geo

import (
	"math"
	"sort"
)

// CellsWithinRadius enumerates the geohash cells, at the given precision,
// whose centers lie within radiusKm of (lat, lon).
//
// The search walks a bounding box of radiusKm/111 degrees of latitude and
// radiusKm/(111*cos(lat)) degrees of longitude one cell at a time. Every step
// is snapped to a cell center, so each cell intersecting the box is visited
// exactly once. A cell is kept when the great-circle distance from the query
// point to its decoded center is at most radiusKm; cells whose center falls
// outside the circle are dropped even if part of the cell is inside.
//
// Near the poles the longitude span widens to the whole circle, and boxes that
// cross the antimeridian are wrapped before encoding. Both are accepted
// approximations for a street-level noise map.
func CellsWithinRadius(lat, lon, radiusKm float64, precision int) []string {
	if radiusKm < 0 || !ValidCoordinate(lat, lon) {
		return nil
	}
	precision = clampPrecision(precision)
	cellLat, cellLon := CellSize(precision)
	box := BoundingBox(lat, lon, radiusKm)

	seen := make(map[string]struct{})
	for y := snapToCenter(box.MinLat, -90, cellLat); y <= box.MaxLat+cellLat/2 && y < 90; y += cellLat {
		for x := snapToCenter(box.MinLon, -180, cellLon); x <= box.MaxLon+cellLon/2; x += cellLon {
			hash := Encode(y, NormalizeLon(x), precision)
			if _, ok := seen[hash]; ok {
				continue
			}
			cLat, cLon := Decode(hash)
			if DistanceKm(lat, lon, cLat, cLon) <= radiusKm {
				seen[hash] = struct{}{}
			}
		}
	}

	cells := make([]string, 0, len(seen))
	for hash := range seen {
		cells = append(cells, hash)
	}
	sort.Strings(cells)
	return cells
}

// snapToCenter returns the center of the grid cell (origin + k*step) that
// contains v.
func snapToCenter(v, origin, step float64) float64 {
	k := math.Floor((v - origin) / step)
	return origin + k*step + step/2
}
