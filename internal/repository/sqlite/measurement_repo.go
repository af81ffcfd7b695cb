package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"noisemap/internal/domain/entities"
	"noisemap/internal/repository"
)

type MeasurementRepository struct {
	db *sql.DB
}

func NewMeasurementRepository(db *sql.DB) *MeasurementRepository {
	return &MeasurementRepository{db: db}
}

func (r *MeasurementRepository) Insert(ctx context.Context, m *entities.RawMeasurement) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO measurements (id, user_id, ts, noise_level, duration, lat, lon, geohash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Timestamp.UnixNano(), m.NoiseLevel, m.Duration,
		m.Location.Latitude, m.Location.Longitude, m.Geohash)
	return classify("measurements.insert", err)
}

func (r *MeasurementRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM measurements WHERE id = ?`, id)
	return classify("measurements.delete", err)
}

func (r *MeasurementRepository) GetByID(ctx context.Context, id string) (*entities.RawMeasurement, error) {
	var (
		m  entities.RawMeasurement
		ts int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, ts, noise_level, duration, lat, lon, geohash FROM measurements WHERE id = ?`, id).
		Scan(&m.ID, &m.UserID, &ts, &m.NoiseLevel, &m.Duration, &m.Location.Latitude, &m.Location.Longitude, &m.Geohash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrMeasurementNotFound
	}
	if err != nil {
		return nil, classify("measurements.get", err)
	}
	m.Timestamp = time.Unix(0, ts).UTC()
	return &m, nil
}

func (r *MeasurementRepository) ExposureByUser(ctx context.Context, userID string, highDB float64) (entities.Exposure, error) {
	var e entities.Exposure
	err := r.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN noise_level >= ? THEN duration ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN noise_level <  ? THEN duration ELSE 0 END), 0)
		 FROM measurements WHERE user_id = ?`, highDB, highDB, userID).
		Scan(&e.HighSeconds, &e.LowSeconds)
	if err != nil {
		return entities.Exposure{}, classify("measurements.exposure", err)
	}
	return e, nil
}
