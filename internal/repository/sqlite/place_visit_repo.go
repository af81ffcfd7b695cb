package sqlite

import (
	"context"
	"database/sql"
	"time"

	"noisemap/internal/domain/entities"
)

type PlaceVisitRepository struct {
	db *sql.DB
}

func NewPlaceVisitRepository(db *sql.DB) *PlaceVisitRepository {
	return &PlaceVisitRepository{db: db}
}

// RecordVisit reports created from the insert's own row count, so among
// concurrent callers for the same place exactly one sees true.
func (r *PlaceVisitRepository) RecordVisit(ctx context.Context, userID string, kind entities.PlaceKind, place, country string, at time.Time) (bool, error) {
	const op = "place_visits.record"
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO place_visits (user_id, kind, place_name, country, visit_count, first_visit, last_visit)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT (user_id, kind, place_name) DO NOTHING`,
		userID, string(kind), place, country, at.UnixNano(), at.UnixNano())
	if err != nil {
		return false, classify(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(op, err)
	}
	if n == 1 {
		return true, nil
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE place_visits SET visit_count = visit_count + 1, last_visit = ?
		 WHERE user_id = ? AND kind = ? AND place_name = ?`,
		at.UnixNano(), userID, string(kind), place)
	return false, classify(op, err)
}

func (r *PlaceVisitRepository) CountDistinct(ctx context.Context, userID string, kind entities.PlaceKind) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM place_visits WHERE user_id = ? AND kind = ?`, userID, string(kind)).Scan(&n)
	if err != nil {
		return 0, classify("place_visits.count", err)
	}
	return n, nil
}
