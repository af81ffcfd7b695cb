// Package repository declares the storage contracts of the noise map. The
// memory, mongo and sqlite sub-packages implement every interface here; the
// services depend only on these interfaces.
//
// Every mutation that the engine's correctness relies on is a single atomic
// store operation: the aggregate upsert, the measurement counter increment,
// the achievement set-union and the place-visit insert. Nothing here needs a
// multi-record transaction.
package repository

import (
	"context"
	"errors"
	"time"

	"noisemap/internal/domain/entities"
)

// Sentinel errors shared by all implementations.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrUsernameTaken       = errors.New("username already taken")
	ErrMeasurementNotFound = errors.New("measurement not found")
)

// MeasurementRepository stores raw readings.
type MeasurementRepository interface {
	Insert(ctx context.Context, m *entities.RawMeasurement) error
	// Delete removes a reading; deleting a missing reading is not an error.
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*entities.RawMeasurement, error)
	// ExposureByUser sums reading durations at or above highDB into
	// HighSeconds and the rest into LowSeconds.
	ExposureByUser(ctx context.Context, userID string, highDB float64) (entities.Exposure, error)
}

// AggregateRepository maintains hourly geohash buckets.
type AggregateRepository interface {
	// Increment atomically adds noise to the bucket at key, creating it with
	// Count 1 and the given center when absent. The center of an existing
	// bucket is never changed.
	Increment(ctx context.Context, key entities.BucketKey, noise float64, center entities.Location) error
	// FindNear returns buckets whose center is within radiusMeters of center
	// and whose hour falls in window.
	FindNear(ctx context.Context, center entities.Location, radiusMeters float64, window entities.TimeWindow) ([]entities.NearbyBucket, error)
	// FindByGeohashes returns buckets whose geohash is in hashes and whose
	// hour falls in window.
	FindByGeohashes(ctx context.Context, hashes []string, window entities.TimeWindow) ([]entities.AggregateBucket, error)
}

// UserRepository stores accounts, their measurement counter and achievements.
type UserRepository interface {
	// Create fails with ErrUsernameTaken when the username exists.
	Create(ctx context.Context, user *entities.User) error
	GetByID(ctx context.Context, id string) (*entities.User, error)
	GetByUsername(ctx context.Context, username string) (*entities.User, error)
	// IncrementMeasurementCount atomically adds one and returns the new value.
	// It fails with ErrUserNotFound for unknown users.
	IncrementMeasurementCount(ctx context.Context, userID string) (int64, error)
	// AddAchievement adds a to the user's set, keyed by title, and reports
	// whether it was absent before.
	AddAchievement(ctx context.Context, userID string, a entities.Achievement) (bool, error)
}

// PlaceVisitRepository records the distinct places each user has measured in.
type PlaceVisitRepository interface {
	// RecordVisit inserts the (user, kind, place) row if absent, otherwise
	// bumps its visit count and last visit. created is true only for the
	// caller whose insert created the row.
	RecordVisit(ctx context.Context, userID string, kind entities.PlaceKind, place, country string, at time.Time) (created bool, err error)
	// CountDistinct returns how many distinct places of kind the user has.
	CountDistinct(ctx context.Context, userID string, kind entities.PlaceKind) (int64, error)
}

// Store bundles one backend's repositories.
type Store struct {
	Measurements MeasurementRepository
	Aggregates   AggregateRepository
	Users        UserRepository
	PlaceVisits  PlaceVisitRepository
	// Close releases the backend's connections. It may be nil.
	Close func(ctx context.Context) error
}
