package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Timestamps are stored as Unix nanoseconds, hour buckets as Unix seconds.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS measurements (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		ts          INTEGER NOT NULL,
		noise_level REAL NOT NULL,
		duration    INTEGER NOT NULL,
		lat         REAL NOT NULL,
		lon         REAL NOT NULL,
		geohash     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS measurements_user_idx ON measurements (user_id)`,
	`CREATE TABLE IF NOT EXISTS aggregates (
		geohash     TEXT NOT NULL,
		time_bucket INTEGER NOT NULL,
		sum_noise   REAL NOT NULL,
		count       INTEGER NOT NULL,
		lat         REAL NOT NULL,
		lon         REAL NOT NULL,
		PRIMARY KEY (geohash, time_bucket)
	)`,
	`CREATE INDEX IF NOT EXISTS aggregates_lat_lon_idx ON aggregates (lat, lon)`,
	`CREATE TABLE IF NOT EXISTS users (
		id                TEXT PRIMARY KEY,
		username          TEXT NOT NULL UNIQUE,
		password_hash     TEXT NOT NULL,
		measurement_count INTEGER NOT NULL DEFAULT 0,
		created_at        INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_achievements (
		user_id     TEXT NOT NULL,
		title       TEXT NOT NULL,
		description TEXT NOT NULL,
		awarded_at  INTEGER NOT NULL,
		PRIMARY KEY (user_id, title)
	)`,
	`CREATE TABLE IF NOT EXISTS place_visits (
		user_id     TEXT NOT NULL,
		kind        TEXT NOT NULL,
		place_name  TEXT NOT NULL,
		country     TEXT NOT NULL DEFAULT '',
		visit_count INTEGER NOT NULL,
		first_visit INTEGER NOT NULL,
		last_visit  INTEGER NOT NULL,
		PRIMARY KEY (user_id, kind, place_name)
	)`,
}

// Migrate creates every table and index that does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
