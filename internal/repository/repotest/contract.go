// Package repotest holds the behavioural contract every repository backend
// must satisfy. Backend test files call Run with a factory that returns a
// fresh, empty store for each subtest.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noisemap/internal/domain/entities"
	"noisemap/internal/geo"
	"noisemap/internal/repository"
	"noisemap/pkg/utils"
)

// Factory returns an empty store. Cleanup is registered on t by the factory.
type Factory func(t *testing.T) *repository.Store

// Precision is the geohash precision contract tests encode with.
const Precision = 7

var hour = time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

// Run executes the whole contract against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AggregateIncrementCreatesThenAccumulates", func(t *testing.T) { aggregateIncrement(t, newStore(t)) })
	t.Run("AggregateConcurrentIncrements", func(t *testing.T) { aggregateConcurrent(t, newStore(t)) })
	t.Run("AggregateFindByGeohashes", func(t *testing.T) { aggregateFindByGeohashes(t, newStore(t)) })
	t.Run("AggregateFindNear", func(t *testing.T) { aggregateFindNear(t, newStore(t)) })
	t.Run("MeasurementLifecycle", func(t *testing.T) { measurementLifecycle(t, newStore(t)) })
	t.Run("MeasurementExposure", func(t *testing.T) { measurementExposure(t, newStore(t)) })
	t.Run("UserCreateAndLookup", func(t *testing.T) { userCreate(t, newStore(t)) })
	t.Run("UserConcurrentCounter", func(t *testing.T) { userCounter(t, newStore(t)) })
	t.Run("UserAchievementsIdempotent", func(t *testing.T) { userAchievements(t, newStore(t)) })
	t.Run("PlaceVisits", func(t *testing.T) { placeVisits(t, newStore(t)) })
	t.Run("PlaceVisitsConcurrentInsert", func(t *testing.T) { placeVisitsConcurrent(t, newStore(t)) })
}

func key(lat, lon float64, at time.Time) entities.BucketKey {
	return entities.BucketKey{Geohash: geo.Encode(lat, lon, Precision), TimeBucket: at}
}

func bucket(t *testing.T, s *repository.Store, k entities.BucketKey) entities.AggregateBucket {
	t.Helper()
	found, err := s.Aggregates.FindByGeohashes(context.Background(), []string{k.Geohash}, entities.TimeWindow{Start: k.TimeBucket, End: k.TimeBucket})
	require.NoError(t, err)
	require.Len(t, found, 1)
	return found[0]
}

func aggregateIncrement(t *testing.T, s *repository.Store) {
	ctx := context.Background()
	k := key(45.0, 9.0, hour)
	first := entities.NewLocation(45.0, 9.0)

	require.NoError(t, s.Aggregates.Increment(ctx, k, 80, first))
	b := bucket(t, s, k)
	assert.Equal(t, int64(1), b.Count)
	assert.InDelta(t, 80, b.SumNoise, 1e-9)
	assert.InDelta(t, first.Latitude, b.Center.Latitude, 1e-9)

	require.NoError(t, s.Aggregates.Increment(ctx, k, 60, entities.NewLocation(45.0003, 9.0003)))
	b = bucket(t, s, k)
	assert.Equal(t, int64(2), b.Count)
	assert.InDelta(t, 140, b.SumNoise, 1e-9)
	assert.InDelta(t, 70, b.Intensity(), 1e-9)
	assert.InDelta(t, first.Latitude, b.Center.Latitude, 1e-9, "center is set on insert only")
	assert.InDelta(t, first.Longitude, b.Center.Longitude, 1e-9, "center is set on insert only")
	assert.True(t, b.Key.TimeBucket.Equal(hour))
	assert.Equal(t, k.Geohash, b.Key.Geohash)
}

func aggregateConcurrent(t *testing.T, s *repository.Store) {
	ctx := context.Background()
	k := key(45.4642, 9.19, hour)
	const n = 40

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.Aggregates.Increment(ctx, k, float64(i), entities.NewLocation(45.4642, 9.19))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	b := bucket(t, s, k)
	assert.Equal(t, int64(n), b.Count)
	assert.InDelta(t, float64(n*(n-1)/2), b.SumNoise, 1e-6)
}

func aggregateFindByGeohashes(t *testing.T, s *repository.Store) {
	ctx := context.Background()
	a := key(45.0, 9.0, hour)
	b := key(45.01, 9.0, hour)
	aLater := key(45.0, 9.0, hour.Add(3*time.Hour))

	require.NoError(t, s.Aggregates.Increment(ctx, a, 50, entities.NewLocation(45.0, 9.0)))
	require.NoError(t, s.Aggregates.Increment(ctx, b, 70, entities.NewLocation(45.01, 9.0)))
	require.NoError(t, s.Aggregates.Increment(ctx, aLater, 90, entities.NewLocation(45.0, 9.0)))

	all, err := s.Aggregates.FindByGeohashes(ctx, []string{a.Geohash, b.Geohash, "zzzzzzz"}, entities.TimeWindow{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	windowed, err := s.Aggregates.FindByGeohashes(ctx, []string{a.Geohash}, entities.TimeWindow{Start: hour.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.InDelta(t, 90, windowed[0].SumNoise, 1e-9)

	none, err := s.Aggregates.FindByGeohashes(ctx, nil, entities.TimeWindow{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func aggregateFindNear(t *testing.T, s *repository.Store) {
	ctx := context.Background()
	origin := entities.NewLocation(45.0, 9.0)
	near := entities.NewLocation(45.0045, 9.0) // ~500 m north
	far := entities.NewLocation(45.027, 9.0)   // ~3 km north
	other := entities.NewLocation(41.9, 12.5)  // Rome

	for _, loc := range []entities.Location{origin, near, far, other} {
		require.NoError(t, s.Aggregates.Increment(ctx, key(loc.Latitude, loc.Longitude, hour), 70, loc))
	}
	require.NoError(t, s.Aggregates.Increment(ctx, key(origin.Latitude, origin.Longitude, hour.Add(-5*time.Hour)), 40, origin))

	found, err := s.Aggregates.FindNear(ctx, origin, 1000, entities.TimeWindow{})
	require.NoError(t, err)
	require.Len(t, found, 3, "two hours at the origin plus the near cell")
	for _, f := range found {
		assert.LessOrEqual(t, f.DistanceMeters, 1000.0)
	}
	nearHash := geo.Encode(near.Latitude, near.Longitude, Precision)
	var sawNear bool
	for _, f := range found {
		if f.Key.Geohash == nearHash {
			sawNear = true
			assert.InDelta(t, 500, f.DistanceMeters, 10)
		}
	}
	assert.True(t, sawNear)

	windowed, err := s.Aggregates.FindNear(ctx, origin, 1000, entities.TimeWindow{Start: hour, End: hour})
	require.NoError(t, err)
	assert.Len(t, windowed, 2)

	wide, err := s.Aggregates.FindNear(ctx, origin, 5000, entities.TimeWindow{Start: hour})
	require.NoError(t, err)
	assert.Len(t, wide, 3)
}

func measurementLifecycle(t *testing.T, s *repository.Store) {
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 14, 37, 0, 0, time.UTC)
	m := entities.NewRawMeasurement(utils.GenerateID(), "user-1", ts, 72.5, 10, entities.NewLocation(45.0, 9.0), geo.Encode(45.0, 9.0, Precision))

	require.NoError(t, s.Measurements.Insert(ctx, m))

	got, err := s.Measurements.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.UserID, got.UserID)
	assert.InDelta(t, 72.5, got.NoiseLevel, 1e-9)
	assert.Equal(t, m.Geohash, got.Geohash)
	assert.True(t, got.Timestamp.Equal(ts))

	require.NoError(t, s.Measurements.Delete(ctx, m.ID))
	_, err = s.Measurements.GetByID(ctx, m.ID)
	assert.ErrorIs(t, err, repository.ErrMeasurementNotFound)

	assert.NoError(t, s.Measurements.Delete(ctx, m.ID), "deleting twice is not an error")
}

func measurementExposure(t *testing.T, s *repository.Store) {
	ctx := context.Background()
	loc := entities.NewLocation(45.0, 9.0)
	gh := geo.Encode(45.0, 9.0, Precision)
	readings := []struct {
		user     string
		noise    float64
		duration int
	}{
		{"alice", 90, 30},
		{"alice", 85, 10},
		{"alice", 60, 5},
		{"bob", 100, 1000},
	}
	for _, r := range readings {
		require.NoError(t, s.Measurements.Insert(ctx, entities.NewRawMeasurement(utils.GenerateID(), r.user, hour, r.noise, r.duration, loc, gh)))
	}

	e, err := s.Measurements.ExposureByUser(ctx, "alice", 85)
	require.NoError(t, err)
	assert.Equal(t, int64(40), e.HighSeconds)
	assert.Equal(t, int64(5), e.LowSeconds)

	empty, err := s.Measurements.ExposureByUser(ctx, "nobody", 85)
	require.NoError(t, err)
	assert.Equal(t, entities.Exposure{}, empty)
}

func newUser(t *testing.T, s *repository.Store, name string) *entities.User {
	t.Helper()
	u := entities.NewUser(utils.GenerateID(), name, "hash-"+name)
	require.NoError(t, s.Users.Create(context.Background(), u))
	return u
}

func userCreate(t *testing.T, s *repository.Store) {
	ctx := context.Background()
	u := newUser(t, s, "alice")

	err := s.Users.Create(ctx, entities.NewUser(utils.GenerateID(), "alice", "other"))
	assert.ErrorIs(t, err, repository.ErrUsernameTaken)

	byID, err := s.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
	assert.Equal(t, "hash-alice", byID.PasswordHash)
	assert.Equal(t, int64(0), byID.MeasurementCount)
	assert.Empty(t, byID.Achievements)

	byName, err := s.Users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	_, err = s.Users.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
	_, err = s.Users.GetByUsername(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func userCounter(t *testing.T, s *repository.Store) {
	ctx := context.Background()
	u := newUser(t, s, "counter")
	const n = 25

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Users.IncrementMeasurementCount(ctx, u.ID)
			assert.NoError(t, err)
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "post-increment value %d must be observed exactly once", i)
	}
	got, err := s.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.MeasurementCount)

	_, err = s.Users.IncrementMeasurementCount(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func userAchievements(t *testing.T, s *repository.Store) {
	ctx := context.Background()
	u := newUser(t, s, "badges")
	a := entities.Achievement{Title: entities.TitleMeasurementMaster, Description: "first"}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		added int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Users.AddAchievement(ctx, u.ID, a)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				added++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, added, "exactly one caller adds the achievement")

	again, err := s.Users.AddAchievement(ctx, u.ID, entities.Achievement{Title: a.Title, Description: "different text"})
	require.NoError(t, err)
	assert.False(t, again, "equality is by title")

	ok, err := s.Users.AddAchievement(ctx, u.ID, entities.Achievement{Title: entities.TitleCityExplorer})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, got.Achievements, 2)
	assert.True(t, got.HasAchievement(entities.TitleMeasurementMaster))
	assert.True(t, got.HasAchievement(entities.TitleCityExplorer))
}

func placeVisits(t *testing.T, s *repository.Store) {
	ctx := context.Background()
	at := hour

	created, err := s.PlaceVisits.RecordVisit(ctx, "u1", entities.PlaceKindCity, "Milan", "Italy", at)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.PlaceVisits.RecordVisit(ctx, "u1", entities.PlaceKindCity, "Milan", "Italy", at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)

	for _, city := range []string{"Turin", "Paris"} {
		created, err = s.PlaceVisits.RecordVisit(ctx, "u1", entities.PlaceKindCity, city, "", at)
		require.NoError(t, err)
		assert.True(t, created)
	}
	created, err = s.PlaceVisits.RecordVisit(ctx, "u1", entities.PlaceKindCountry, "Italy", "", at)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.PlaceVisits.RecordVisit(ctx, "u2", entities.PlaceKindCity, "Milan", "Italy", at)
	require.NoError(t, err)
	assert.True(t, created, "visits are per user")

	cities, err := s.PlaceVisits.CountDistinct(ctx, "u1", entities.PlaceKindCity)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cities)

	countries, err := s.PlaceVisits.CountDistinct(ctx, "u1", entities.PlaceKindCountry)
	require.NoError(t, err)
	assert.Equal(t, int64(1), countries)

	none, err := s.PlaceVisits.CountDistinct(ctx, "nobody", entities.PlaceKindCity)
	require.NoError(t, err)
	assert.Equal(t, int64(0), none)
}

func placeVisitsConcurrent(t *testing.T, s *repository.Store) {
	ctx := context.Background()
	const n = 20

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := s.PlaceVisits.RecordVisit(ctx, "racer", entities.PlaceKindCountry, "France", "", hour.Add(time.Duration(i)*time.Minute))
			assert.NoError(t, err)
			if created {
				mu.Lock()
				creates++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, creates, "exactly one caller observes the insert")
	count, err := s.PlaceVisits.CountDistinct(ctx, "racer", entities.PlaceKindCountry)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
