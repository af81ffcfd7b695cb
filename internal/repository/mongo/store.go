// Package mongo implements the repository interfaces on MongoDB. Aggregates
// carry a GeoJSON center with a 2dsphere index so radius queries run as a
// $geoNear pipeline; every mutation is one atomic single-document update.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"noisemap/internal/apperr"
	"noisemap/internal/config"
	"noisemap/internal/logging"
	"noisemap/internal/repository"
)

// Collection names.
const (
	MeasurementsCollection = "measurements"
	AggregatesCollection   = "aggregates"
	UsersCollection        = "users"
	PlaceVisitsCollection  = "place_visits"
)

// Open connects, pings the primary and makes sure every index exists.
func Open(ctx context.Context, cfg config.MongoConfig) (*repository.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := driver.Connect(connectCtx, options.Client().
		ApplyURI(cfg.ConnectionURI()).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(cfg.Database)
	if err := EnsureIndexes(connectCtx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logging.Info().Str("database", cfg.Database).Msg("mongo store ready")
	store := NewStore(db)
	store.Close = client.Disconnect
	return store, nil
}

// NewStore wraps db in the repository bundle. The caller owns the client.
func NewStore(db *driver.Database) *repository.Store {
	return &repository.Store{
		Measurements: NewMeasurementRepository(db.Collection(MeasurementsCollection)),
		Aggregates:   NewAggregateRepository(db.Collection(AggregatesCollection)),
		Users:        NewUserRepository(db.Collection(UsersCollection)),
		PlaceVisits:  NewPlaceVisitRepository(db.Collection(PlaceVisitsCollection)),
	}
}

// EnsureIndexes creates the unique keys the atomic upserts depend on and the
// 2dsphere index $geoNear requires. Creating an existing index is a no-op.
func EnsureIndexes(ctx context.Context, db *driver.Database) error {
	indexes := map[string][]driver.IndexModel{
		AggregatesCollection: {
			{Keys: bson.D{{Key: "geohash", Value: 1}, {Key: "time_bucket", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
		},
		MeasurementsCollection: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
		UsersCollection: {
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		PlaceVisitsCollection: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "place_name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	return nil
}

// classify marks timeouts and network failures as transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if driver.IsTimeout(err) || driver.IsNetworkError(err) {
		return apperr.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// utc truncates to the millisecond precision BSON dates carry.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
