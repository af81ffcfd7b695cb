// Package memory implements the repository interfaces with mutex-guarded Go
// maps. It is the default backend for development and the one the service
// and API tests run against. Every method takes the repository's lock for its
// whole duration, which is what makes each mutation atomic.
package memory

import (
	"noisemap/internal/repository"
)

// NewStore returns a fresh in-memory backend.
func NewStore(precision int) *repository.Store {
	return &repository.Store{
		Measurements: NewMeasurementRepository(),
		Aggregates:   NewAggregateRepository(precision),
		Users:        NewUserRepository(),
		PlaceVisits:  NewPlaceVisitRepository(),
	}
}
