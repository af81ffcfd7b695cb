// Package sqlite implements the repository interfaces on an embedded SQLite
// database through the pure-Go modernc.org/sqlite driver. Every mutation the
// engine relies on is one statement (an ON CONFLICT upsert or an
// UPDATE ... RETURNING), so atomicity comes from SQLite itself.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"noisemap/internal/apperr"
	"noisemap/internal/logging"
	"noisemap/internal/repository"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

// Open opens (creating if needed) the database at path, serializes access
// over a single connection, applies the connection pragmas and creates the
// schema.
//
// Go Learning Note — database/sql pools:
// *sql.DB is a pool, not a connection. SQLite allows one writer at a time, so
// capping the pool at one connection turns writer contention into queueing
// inside database/sql instead of SQLITE_BUSY errors.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := tune(ctx, db, busyTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info().Str("path", path).Msg("sqlite store ready")
	return db, nil
}

func tune(ctx context.Context, db *sql.DB, busyTimeout time.Duration) error {
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&mode); err != nil {
		return fmt.Errorf("apply journal_mode: %w", err)
	}
	logging.Debug().Str("journal_mode", mode).Msg("sqlite tuning")

	pragmas := []string{
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return nil
}

// NewStore wraps an open database in the repository bundle. Close closes db.
func NewStore(db *sql.DB) *repository.Store {
	return &repository.Store{
		Measurements: NewMeasurementRepository(db),
		Aggregates:   NewAggregateRepository(db),
		Users:        NewUserRepository(db),
		PlaceVisits:  NewPlaceVisitRepository(db),
		Close: func(context.Context) error {
			return db.Close()
		},
	}
}

// classify marks lock contention as transient and leaves every other error
// for the caller to classify.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return apperr.Transient(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
