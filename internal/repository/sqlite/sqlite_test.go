package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noisemap/internal/domain/entities"
	"noisemap/internal/geo"
	"noisemap/internal/repository"
	"noisemap/internal/repository/repotest"
)

func openTestDB(t *testing.T) *repository.Store {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "noisemap.db"), 5*time.Second)
	require.NoError(t, err)
	store := NewStore(db)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestStoreContract(t *testing.T) {
	repotest.Run(t, openTestDB)
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "m.db"), time.Second)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(context.Background(), db))
}

func TestAggregateRepository_FindNearAcrossAntimeridian(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	hour := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	east := entities.NewLocation(0, 179.998)
	west := entities.NewLocation(0, -179.998)
	for _, loc := range []entities.Location{east, west} {
		key := entities.BucketKey{Geohash: geo.Encode(loc.Latitude, loc.Longitude, 7), TimeBucket: hour}
		require.NoError(t, s.Aggregates.Increment(ctx, key, 60, loc))
	}

	found, err := s.Aggregates.FindNear(ctx, east, 1000, entities.TimeWindow{})
	require.NoError(t, err)
	assert.Len(t, found, 2, "the cell just west of the antimeridian is ~450 m away")
}

func TestAggregateRepository_FindNearPolar(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	hour := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	a := entities.NewLocation(89.99, 0)
	b := entities.NewLocation(89.99, 90)
	for _, loc := range []entities.Location{a, b} {
		key := entities.BucketKey{Geohash: geo.Encode(loc.Latitude, loc.Longitude, 7), TimeBucket: hour}
		require.NoError(t, s.Aggregates.Increment(ctx, key, 60, loc))
	}

	found, err := s.Aggregates.FindNear(ctx, a, 2000, entities.TimeWindow{})
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestAggregateRepository_FindByGeohashesChunks(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	hour := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	hashes := geo.CellsWithinRadius(45.0, 9.0, 1, 7)
	require.Greater(t, len(hashes), maxInParams/3)
	for _, h := range []string{hashes[0], hashes[len(hashes)-1]} {
		lat, lon := geo.Decode(h)
		require.NoError(t, s.Aggregates.Increment(ctx, entities.BucketKey{Geohash: h, TimeBucket: hour}, 55, entities.NewLocation(lat, lon)))
	}

	many := append([]string{}, hashes...)
	for len(many) <= maxInParams*2 {
		many = append(many, hashes...)
	}
	found, err := s.Aggregates.FindByGeohashes(ctx, many, entities.TimeWindow{})
	require.NoError(t, err)
	require.Len(t, found, 2, "duplicate cells are looked up once")
	assert.Equal(t, hashes[0], found[0].Key.Geohash)
	assert.Equal(t, hashes[len(hashes)-1], found[1].Key.Geohash)
}
