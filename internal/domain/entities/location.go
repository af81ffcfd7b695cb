package entities

// Location represents a geographic coordinate pair (latitude/longitude).
//
// Go Learning Note — Value Types vs Reference Types:
// Location is a small, immutable data holder. NewLocation returns it by value
// (not a pointer), which is idiomatic for small structs. Value types are copied
// on assignment, which is fine here since Location is only 16 bytes (two float64s).
// Larger records with identity (User, RawMeasurement) are passed as pointers.
type Location struct {
	Latitude  float64 `json:"lat" bson:"lat"`
	Longitude float64 `json:"lon" bson:"lon"`
}

// NewLocation creates a Location value from latitude and longitude.
func NewLocation(lat, lon float64) Location {
	return Location{
		Latitude:  lat,
		Longitude: lon,
	}
}

// GeoPointType is the only GeoJSON geometry type accepted for readings.
const GeoPointType = "Point"

// GeoPoint is a GeoJSON point exactly as clients send it. Coordinates are
// ordered [longitude, latitude], which is the GeoJSON convention and the order
// MongoDB's 2dsphere index expects.
type GeoPoint struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

// PointFrom builds a GeoJSON point for a validated location.
func PointFrom(loc Location) GeoPoint {
	return GeoPoint{
		Type:        GeoPointType,
		Coordinates: []float64{loc.Longitude, loc.Latitude},
	}
}

// Location returns the point's coordinates as a Location. It assumes the point
// has already been validated and has exactly two coordinates.
func (p GeoPoint) Location() Location {
	return Location{
		Latitude:  p.Coordinates[1],
		Longitude: p.Coordinates[0],
	}
}
