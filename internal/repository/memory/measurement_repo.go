package memory

import (
	"context"
	"sync"

	"noisemap/internal/domain/entities"
	"noisemap/internal/repository"
)

type MeasurementRepository struct {
	mu           sync.RWMutex
	measurements map[string]*entities.RawMeasurement
}

func NewMeasurementRepository() *MeasurementRepository {
	return &MeasurementRepository{
		measurements: make(map[string]*entities.RawMeasurement),
	}
}

func (r *MeasurementRepository) Insert(ctx context.Context, m *entities.RawMeasurement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *m
	r.measurements[m.ID] = &c
	return nil
}

func (r *MeasurementRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.measurements, id)
	return nil
}

func (r *MeasurementRepository) GetByID(ctx context.Context, id string) (*entities.RawMeasurement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.measurements[id]
	if !exists {
		return nil, repository.ErrMeasurementNotFound
	}
	c := *m
	return &c, nil
}

func (r *MeasurementRepository) ExposureByUser(ctx context.Context, userID string, highDB float64) (entities.Exposure, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var e entities.Exposure
	for _, m := range r.measurements {
		if m.UserID != userID {
			continue
		}
		if m.NoiseLevel >= highDB {
			e.HighSeconds += int64(m.Duration)
		} else {
			e.LowSeconds += int64(m.Duration)
		}
	}
	return e, nil
}

// Len returns the number of stored readings.
func (r *MeasurementRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.measurements)
}
