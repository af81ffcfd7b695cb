package sqlite

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"strings"
	"time"

	"noisemap/internal/domain/entities"
	"noisemap/internal/geo"
)

// maxInParams keeps IN lists well below SQLite's bound-parameter limit.
const maxInParams = 500

// polarCutoff is the latitude beyond which a longitude prefilter is skipped.
const polarCutoff = 80.0

type AggregateRepository struct {
	db *sql.DB
}

func NewAggregateRepository(db *sql.DB) *AggregateRepository {
	return &AggregateRepository{db: db}
}

const incrementSQL = `
INSERT INTO aggregates (geohash, time_bucket, sum_noise, count, lat, lon)
VALUES (?, ?, ?, 1, ?, ?)
ON CONFLICT (geohash, time_bucket) DO UPDATE SET
	sum_noise = sum_noise + excluded.sum_noise,
	count     = count + 1`

func (r *AggregateRepository) Increment(ctx context.Context, key entities.BucketKey, noise float64, center entities.Location) error {
	_, err := r.db.ExecContext(ctx, incrementSQL,
		key.Geohash, key.TimeBucket.Unix(), noise, center.Latitude, center.Longitude)
	return classify("aggregates.increment", err)
}

// FindNear prefilters on a latitude/longitude rectangle served by the
// (lat, lon) index, then keeps rows whose exact great-circle distance is
// within the radius.
func (r *AggregateRepository) FindNear(ctx context.Context, center entities.Location, radiusMeters float64, window entities.TimeWindow) ([]entities.NearbyBucket, error) {
	box := geo.BoundingBox(center.Latitude, center.Longitude, radiusMeters/1000)

	var (
		where = []string{"lat BETWEEN ? AND ?"}
		args  = []any{box.MinLat, box.MaxLat}
	)
	if lonFilterUsable(box) {
		switch {
		case box.MinLon < -180:
			where = append(where, "(lon >= ? OR lon <= ?)")
			args = append(args, box.MinLon+360, box.MaxLon)
		case box.MaxLon > 180:
			where = append(where, "(lon >= ? OR lon <= ?)")
			args = append(args, box.MinLon, box.MaxLon-360)
		default:
			where = append(where, "lon BETWEEN ? AND ?")
			args = append(args, box.MinLon, box.MaxLon)
		}
	}
	where, args = appendWindow(where, args, window)

	buckets, err := r.query(ctx, "aggregates.find_near", strings.Join(where, " AND "), args)
	if err != nil {
		return nil, err
	}

	var result []entities.NearbyBucket
	for _, b := range buckets {
		d := geo.DistanceKm(center.Latitude, center.Longitude, b.Center.Latitude, b.Center.Longitude) * 1000
		if d <= radiusMeters {
			result = append(result, entities.NearbyBucket{AggregateBucket: b, DistanceMeters: d})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DistanceMeters != result[j].DistanceMeters {
			return result[i].DistanceMeters < result[j].DistanceMeters
		}
		return result[i].Key.TimeBucket.Before(result[j].Key.TimeBucket)
	})
	return result, nil
}

func lonFilterUsable(box geo.Box) bool {
	if box.MaxLon-box.MinLon >= 360 {
		return false
	}
	return math.Abs(box.MinLat) < polarCutoff && math.Abs(box.MaxLat) < polarCutoff
}

// FindByGeohashes issues one query per chunk of maxInParams cells.
func (r *AggregateRepository) FindByGeohashes(ctx context.Context, hashes []string, window entities.TimeWindow) ([]entities.AggregateBucket, error) {
	hashes = dedupe(hashes)
	var result []entities.AggregateBucket
	for start := 0; start < len(hashes); start += maxInParams {
		end := min(start+maxInParams, len(hashes))
		chunk := hashes[start:end]

		where := []string{"geohash IN (" + placeholders(len(chunk)) + ")"}
		args := make([]any, 0, len(chunk)+2)
		for _, h := range chunk {
			args = append(args, h)
		}
		where, args = appendWindow(where, args, window)

		found, err := r.query(ctx, "aggregates.find_by_geohashes", strings.Join(where, " AND "), args)
		if err != nil {
			return nil, err
		}
		result = append(result, found...)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Key.Geohash != result[j].Key.Geohash {
			return result[i].Key.Geohash < result[j].Key.Geohash
		}
		return result[i].Key.TimeBucket.Before(result[j].Key.TimeBucket)
	})
	return result, nil
}

func (r *AggregateRepository) query(ctx context.Context, op, where string, args []any) ([]entities.AggregateBucket, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT geohash, time_bucket, sum_noise, count, lat, lon FROM aggregates WHERE "+where, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []entities.AggregateBucket
	for rows.Next() {
		var (
			b    entities.AggregateBucket
			hour int64
		)
		if err := rows.Scan(&b.Key.Geohash, &hour, &b.SumNoise, &b.Count, &b.Center.Latitude, &b.Center.Longitude); err != nil {
			return nil, classify(op, err)
		}
		b.Key.TimeBucket = time.Unix(hour, 0).UTC()
		out = append(out, b)
	}
	return out, classify(op, rows.Err())
}

func appendWindow(where []string, args []any, w entities.TimeWindow) ([]string, []any) {
	if !w.Start.IsZero() {
		where = append(where, "time_bucket >= ?")
		args = append(args, w.Start.Unix())
	}
	if !w.End.IsZero() {
		where = append(where, "time_bucket <= ?")
		args = append(args, w.End.Unix())
	}
	return where, args
}

func dedupe(hashes []string) []string {
	seen := make(map[string]struct{}, len(hashes))
	out := make([]string, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
