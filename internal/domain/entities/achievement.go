package entities

import "time"

// Achievement titles. A user holds each title at most once.
const (
	TitleMeasurementMaster = "Measurement Master"
	TitleCityExplorer      = "City Explorer"
	TitleWorldTraveler     = "World Traveler"
)

// Achievement is a named badge. Two achievements are the same when their
// titles match; the description is presentation only.
type Achievement struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// PlaceKind is a typed string enum for the places the engine counts.
//
// Go Learning Note — Type Aliases for Enums:
// Go doesn't have a native enum keyword. The idiomatic pattern is to define a
// named type and declare constants of that type. String-based enums are
// preferred when the value is stored in a database, because they're readable.
type PlaceKind string

const (
	PlaceKindCity    PlaceKind = "city"
	PlaceKindCountry PlaceKind = "country"
)

// PlaceVisit records that a user has submitted at least one reading from a
// place. There is one row per (user, kind, place); FirstVisit never changes.
type PlaceVisit struct {
	UserID     string    `json:"user_id"`
	Kind       PlaceKind `json:"kind"`
	PlaceName  string    `json:"place_name"`
	Country    string    `json:"country,omitempty"`
	VisitCount int64     `json:"visit_count"`
	FirstVisit time.Time `json:"first_visit"`
	LastVisit  time.Time `json:"last_visit"`
}
