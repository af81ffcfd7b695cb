package memory

import (
	"context"
	"sync"
	"time"

	"noisemap/internal/domain/entities"
)

type visitKey struct {
	userID string
	kind   entities.PlaceKind
	place  string
}

type countKey struct {
	userID string
	kind   entities.PlaceKind
}

// PlaceVisitRepository keeps one row per (user, kind, place) plus a running
// count of distinct places per (user, kind), so CountDistinct is O(1).
type PlaceVisitRepository struct {
	mu     sync.RWMutex
	visits map[visitKey]*entities.PlaceVisit
	counts map[countKey]int64
}

func NewPlaceVisitRepository() *PlaceVisitRepository {
	return &PlaceVisitRepository{
		visits: make(map[visitKey]*entities.PlaceVisit),
		counts: make(map[countKey]int64),
	}
}

func (r *PlaceVisitRepository) RecordVisit(ctx context.Context, userID string, kind entities.PlaceKind, place, country string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := visitKey{userID: userID, kind: kind, place: place}
	if v, exists := r.visits[key]; exists {
		v.VisitCount++
		v.LastVisit = at
		return false, nil
	}

	r.visits[key] = &entities.PlaceVisit{
		UserID:     userID,
		Kind:       kind,
		PlaceName:  place,
		Country:    country,
		VisitCount: 1,
		FirstVisit: at,
		LastVisit:  at,
	}
	r.counts[countKey{userID: userID, kind: kind}]++
	return true, nil
}

func (r *PlaceVisitRepository) CountDistinct(ctx context.Context, userID string, kind entities.PlaceKind) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[countKey{userID: userID, kind: kind}], nil
}

// Get returns a copy of one visit row.
func (r *PlaceVisitRepository) Get(userID string, kind entities.PlaceKind, place string) (entities.PlaceVisit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.visits[visitKey{userID: userID, kind: kind, place: place}]
	if !ok {
		return entities.PlaceVisit{}, false
	}
	return *v, true
}
