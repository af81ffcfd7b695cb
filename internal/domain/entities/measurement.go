// Package entities defines the core domain models for the noise map: raw
// readings, the hourly geohash buckets derived from them, users and the
// achievements they collect. These structs live in the innermost layer of the
// architecture — they have no dependencies on databases, HTTP, or external
// services.
//
// Go Learning Note — "internal/" directory:
// Packages under internal/ cannot be imported by code outside this module. Go
// enforces this at the compiler level. This is how Go provides encapsulation
// at the package level — it prevents external code from depending on your
// internal implementation details.
package entities

import "time"

// RawMeasurement is one noise reading as it was submitted. Raw records are
// never updated; the only deletion is the compensation step of ingestion.
type RawMeasurement struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Timestamp  time.Time `json:"timestamp"`
	NoiseLevel float64   `json:"noise_level"`
	Duration   int       `json:"duration"`
	Location   Location  `json:"location"`
	Geohash    string    `json:"geohash"`
}

// NewRawMeasurement creates a reading with the given identity and position.
func NewRawMeasurement(id, userID string, ts time.Time, noise float64, duration int, loc Location, geohash string) *RawMeasurement {
	return &RawMeasurement{
		ID:         id,
		UserID:     userID,
		Timestamp:  ts,
		NoiseLevel: noise,
		Duration:   duration,
		Location:   loc,
		Geohash:    geohash,
	}
}

// Exposure totals the seconds of recorded noise for one user on either side of
// a loudness threshold.
type Exposure struct {
	HighSeconds int64 `json:"exposure_high"`
	LowSeconds  int64 `json:"exposure_low"`
}
