package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius used for every distance in the system.
const EarthRadiusKm = 6371.0

// kmPerDegreeLat is the length of one degree of latitude used for bounding
// boxes. It matches the rounding that readers of the query API expect.
const kmPerDegreeLat = 111.0

// DistanceKm returns the great-circle distance between two points.
//
// Go Learning Note — "github.com/golang/geo/s2":
// s2 is the Go port of Google's S2 geometry library. LatLng.Distance returns
// an s1.Angle (the central angle between the points); multiplying its radians
// by the sphere radius gives the arc length. The library uses a numerically
// stable haversine formulation internally, so we don't hand-roll one.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * EarthRadiusKm
}

// ValidCoordinate reports whether lat and lon are finite and inside
// [-90, 90] and [-180, 180].
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// BoundingBox returns the latitude/longitude rectangle that encloses a circle
// of radiusKm around (lat, lon). Latitude is clamped to the poles; the
// longitude span is capped at the full circle when the circle reaches a pole.
// MinLon may be below -180 or MaxLon above 180 near the antimeridian.
func BoundingBox(lat, lon, radiusKm float64) Box {
	latDelta := radiusKm / kmPerDegreeLat
	lonDelta := 180.0
	if c := math.Cos(lat * math.Pi / 180); c > 1e-9 {
		lonDelta = math.Min(radiusKm/(kmPerDegreeLat*c), 180.0)
	}
	return Box{
		MinLat: math.Max(lat-latDelta, -90),
		MaxLat: math.Min(lat+latDelta, 90),
		MinLon: lon - lonDelta,
		MaxLon: lon + lonDelta,
	}
}

// NormalizeLon wraps a longitude into [-180, 180).
func NormalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// CellDiagonalKm returns an upper bound on the distance between any two
// points inside one cell at the given precision.
func CellDiagonalKm(precision int) float64 {
	h, w := CellSize(precision)
	const kmPerDegree = 2 * math.Pi * EarthRadiusKm / 360
	return math.Hypot(h, w) * kmPerDegree
}
