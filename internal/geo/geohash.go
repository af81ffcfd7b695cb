// Package geo implements the spatial primitives of the noise map: geohash
// encoding/decoding, exact cell dimensions, grid enumeration for radius
// queries, great-circle distance, and an in-memory cell index.
//
// Go Learning Note — What is a Geohash?
// A geohash is a way to encode a latitude/longitude pair into a short string.
// The key property is that nearby locations share a common prefix. For example,
// two points 100m apart might both start with "u0n2hb", while a point 10km away
// might only share "u0n2". This lets you use string prefix matching for fast
// proximity searches instead of computing distances between all pairs.
//
// Precision determines the cell size:
//
//	1 → ~5000 km    4 → ~39 km     7 → ~153 m    10 → ~1.2 m
//	2 → ~1250 km    5 → ~5 km      8 → ~19 m     11 → ~15 cm
//	3 → ~156 km     6 → ~1.2 km    9 → ~2.4 m    12 → ~1.9 cm
//
// Noise readings are bucketed at precision 7 (~153 m cells), about the size
// of a city block. Changing it requires re-aggregating every stored bucket.
package geo

import (
	"strings"
)

const (
	// DefaultPrecision is the geohash length used for aggregate buckets.
	DefaultPrecision = 7
	// MaxPrecision is the longest geohash Encode will produce.
	MaxPrecision = 12

	// base32 is the geohash character set (32 characters). Note that 'a', 'i',
	// 'l', and 'o' are excluded to avoid confusion with digits 0/1.
	base32 = "0123456789bcdefghjkmnpqrstuvwxyz"
)

// Direction names one of the four edge-adjacent cells.
type Direction string

const (
	North Direction = "n"
	South Direction = "s"
	East  Direction = "e"
	West  Direction = "w"
)

// Lookup tables for neighbor calculations. The 'e' key applies to hashes of
// even length and 'o' to odd length: the algorithm alternates longitude and
// latitude bits, so a character's grid layout depends on its position.
var (
	base32Map = map[byte]int{}
	neighbors = map[Direction]map[byte]string{
		North: {'e': "p0r21436x8zb9dcf5h7kjnmqesgutwvy", 'o': "bc01fg45238967deuvhjyznpkmstqrwx"},
		South: {'e': "14365h7k9dcfesgujnmqp0r2twvyx8zb", 'o': "238967debc01fg45kmstqrwxuvhjyznp"},
		East:  {'e': "bc01fg45238967deuvhjyznpkmstqrwx", 'o': "p0r21436x8zb9dcf5h7kjnmqesgutwvy"},
		West:  {'e': "238967debc01fg45kmstqrwxuvhjyznp", 'o': "14365h7k9dcfesgujnmqp0r2twvyx8zb"},
	}
	borders = map[Direction]map[byte]string{
		North: {'e': "prxz", 'o': "bcfguvyz"},
		South: {'e': "028b", 'o': "0145hjnp"},
		East:  {'e': "bcfguvyz", 'o': "prxz"},
		West:  {'e': "0145hjnp", 'o': "028b"},
	}
)

// init() runs automatically when the package is first imported, before main().
//
// Go Learning Note — init() Functions:
// Every Go package can have one or more init() functions. They run once, in
// dependency order, when the program starts. Avoid expensive or
// side-effect-heavy work in init(). Here we only pre-compute a reverse lookup
// map from base32 characters to their index positions.
func init() {
	for i := 0; i < len(base32); i++ {
		base32Map[base32[i]] = i
	}
}

// Box is the latitude/longitude rectangle covered by a geohash cell.
type Box struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Center returns the midpoint of the box.
func (b Box) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

func clampPrecision(precision int) int {
	if precision <= 0 {
		return DefaultPrecision
	}
	if precision > MaxPrecision {
		return MaxPrecision
	}
	return precision
}

// Encode converts latitude and longitude to a geohash string with given precision.
// A precision of zero or less selects DefaultPrecision; values above
// MaxPrecision are clamped.
//
// Algorithm overview (binary interleaving):
//  1. Start with the full range: lat [-90, 90], lon [-180, 180]
//  2. Alternate between longitude (even bits) and latitude (odd bits)
//  3. For each step, bisect the range and set bit=1 if value >= midpoint
//  4. Every 5 bits are encoded as one base32 character
//
// Go Learning Note — strings.Builder:
// strings.Builder is the idiomatic way to efficiently build strings in Go.
// It minimizes memory allocations by using an internal byte buffer. Never build
// strings with repeated concatenation (s += "x") in a loop — that creates a new
// string (and allocation) each iteration because Go strings are immutable.
func Encode(lat, lon float64, precision int) string {
	precision = clampPrecision(precision)

	minLat, maxLat := -90.0, 90.0
	minLon, maxLon := -180.0, 180.0

	var hash strings.Builder
	hash.Grow(precision)
	isEven := true
	bit := 0
	ch := 0

	for hash.Len() < precision {
		if isEven {
			mid := (minLon + maxLon) / 2
			if lon >= mid {
				ch |= 1 << (4 - bit)
				minLon = mid
			} else {
				maxLon = mid
			}
		} else {
			mid := (minLat + maxLat) / 2
			if lat >= mid {
				ch |= 1 << (4 - bit)
				minLat = mid
			} else {
				maxLat = mid
			}
		}
		isEven = !isEven
		bit++
		if bit == 5 {
			hash.WriteByte(base32[ch])
			bit = 0
			ch = 0
		}
	}

	return hash.String()
}

// DecodeBounds replays the binary subdivision of hash and returns the cell it
// names. Characters outside the geohash alphabet are skipped.
func DecodeBounds(hash string) Box {
	box := Box{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}
	isEven := true

	for i := 0; i < len(hash); i++ {
		cd, ok := base32Map[hash[i]]
		if !ok {
			continue
		}
		for j := 4; j >= 0; j-- {
			bit := (cd >> j) & 1
			if isEven {
				mid := (box.MinLon + box.MaxLon) / 2
				if bit == 1 {
					box.MinLon = mid
				} else {
					box.MaxLon = mid
				}
			} else {
				mid := (box.MinLat + box.MaxLat) / 2
				if bit == 1 {
					box.MinLat = mid
				} else {
					box.MaxLat = mid
				}
			}
			isEven = !isEven
		}
	}
	return box
}

// Decode converts a geohash string back to the center latitude and longitude
// of the encoded cell. This is the inverse of Encode up to half a cell.
//
// Go Learning Note — Named Return Values:
// The signature `(lat, lon float64)` uses named return values. This serves as
// documentation (the caller knows which float64 is latitude vs longitude).
func Decode(hash string) (lat, lon float64) {
	return DecodeBounds(hash).Center()
}

// CellSize returns the exact height and width, in degrees, of a cell at the
// given precision. A hash of n characters carries 5n bits; longitude gets the
// extra bit when 5n is odd.
func CellSize(precision int) (latDeg, lonDeg float64) {
	precision = clampPrecision(precision)
	bits := 5 * precision
	latBits := bits / 2
	lonBits := bits - latBits
	return 180.0 / float64(uint64(1)<<latBits), 360.0 / float64(uint64(1)<<lonBits)
}

// Valid reports whether hash is a non-empty geohash of at most MaxPrecision
// characters drawn from the geohash alphabet.
func Valid(hash string) bool {
	if len(hash) == 0 || len(hash) > MaxPrecision {
		return false
	}
	for i := 0; i < len(hash); i++ {
		if _, ok := base32Map[hash[i]]; !ok {
			return false
		}
	}
	return true
}

// Neighbor returns the geohash of the adjacent cell in the given direction.
// The algorithm looks up the last character in a pre-computed table and
// recurses into the parent hash when that character sits on the border of its
// parent's cell. At the top level the tables wrap around, which is correct for
// longitude and meaningless past the poles.
func Neighbor(hash string, direction Direction) string {
	if len(hash) == 0 {
		return ""
	}

	hash = strings.ToLower(hash)
	lastChar := hash[len(hash)-1]
	parent := hash[:len(hash)-1]

	var t byte = 'e'
	if len(hash)%2 == 1 {
		t = 'o'
	}

	if strings.IndexByte(borders[direction][t], lastChar) >= 0 && len(parent) > 0 {
		parent = Neighbor(parent, direction)
	}

	idx := strings.IndexByte(neighbors[direction][t], lastChar)
	if idx < 0 {
		return hash
	}
	return parent + string(base32[idx])
}

// AllNeighbors returns all 8 neighboring geohashes plus the center (9 total),
// center first. Diagonal neighbors are computed by chaining two Neighbor calls.
// Any point within one cell height/width of a point in the center cell lies in
// one of these nine cells.
func AllNeighbors(hash string) []string {
	n := Neighbor(hash, North)
	s := Neighbor(hash, South)
	return []string{
		hash,
		n,
		s,
		Neighbor(hash, East),
		Neighbor(hash, West),
		Neighbor(n, East),
		Neighbor(n, West),
		Neighbor(s, East),
		Neighbor(s, West),
	}
}
