package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noisemap/internal/apperr"
	"noisemap/internal/domain/entities"
	"noisemap/internal/geocode"
	"noisemap/internal/repository"
)

func TestNewCatalogue(t *testing.T) {
	cfg := testConfig()
	c := NewCatalogue(cfg.Achievements)

	assert.Equal(t, entities.TitleMeasurementMaster, c.MeasurementMaster.Title)
	assert.Equal(t, "Submitted 5 noise measurements", c.MeasurementMaster.Description)
	assert.Equal(t, "Measured noise in 3 different cities", c.CityExplorer.Description)
	assert.Equal(t, "Measured noise in 2 different countries", c.WorldTraveler.Description)
}

func TestAchievementService_MeasurementMasterAtExactThreshold(t *testing.T) {
	p := setupPipeline(t, testConfig(), nil, nil)
	ctx := context.Background()
	user := createUser(t, p.store.Users, "alice")
	loc := entities.NewLocation(45, 9)

	for i := 1; i <= 7; i++ {
		earned, err := p.achievements.OnMeasurement(ctx, user.ID, testHour, loc)
		require.NoError(t, err)
		if i == 5 {
			assert.Equal(t, []string{entities.TitleMeasurementMaster}, titles(earned), "reading %d", i)
		} else {
			assert.Empty(t, earned, "reading %d", i)
		}
	}

	stored, err := p.store.Users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stored.MeasurementCount)
	assert.Equal(t, []string{entities.TitleMeasurementMaster}, titles(stored.Achievements))
}

func TestAchievementService_ConcurrentReadingsAwardOnce(t *testing.T) {
	p := setupPipeline(t, testConfig(), nil, nil)
	ctx := context.Background()
	user := createUser(t, p.store.Users, "alice")

	const n = 20
	results := make([][]entities.Achievement, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			earned, err := p.achievements.OnMeasurement(ctx, user.ID, testHour, entities.NewLocation(45, 9))
			assert.NoError(t, err)
			results[i] = earned
		}(i)
	}
	wg.Wait()

	awarded := 0
	for _, earned := range results {
		awarded += len(earned)
	}
	assert.Equal(t, 1, awarded, "exactly one reading crosses the threshold")

	stored, err := p.store.Users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), stored.MeasurementCount)
	assert.Len(t, stored.Achievements, 1)
}

func TestAchievementService_PlaceAchievements(t *testing.T) {
	geocoder := placesByLat(map[float64]geocode.Place{
		45.46: {City: "Milan", Country: "Italy"},
		41.90: {City: "Rome", Country: "Italy"},
		48.85: {City: "Paris", Country: "France"},
	})
	p := setupPipeline(t, testConfig(), geocoder, nil)
	ctx := context.Background()
	user := createUser(t, p.store.Users, "alice")

	steps := []struct {
		lat  float64
		want []string
	}{
		{45.46, []string{}},
		{45.46, []string{}},
		{41.90, []string{}},
		{48.85, []string{entities.TitleCityExplorer, entities.TitleWorldTraveler}},
		{41.90, []string{entities.TitleMeasurementMaster}},
	}
	for i, step := range steps {
		earned, err := p.achievements.OnMeasurement(ctx, user.ID, testHour.Add(time.Duration(i)*time.Minute), entities.NewLocation(step.lat, 9))
		require.NoError(t, err)
		assert.Equal(t, step.want, titles(earned), "reading %d", i+1)
	}

	cities, err := p.store.PlaceVisits.CountDistinct(ctx, user.ID, entities.PlaceKindCity)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cities)
	countries, err := p.store.PlaceVisits.CountDistinct(ctx, user.ID, entities.PlaceKindCountry)
	require.NoError(t, err)
	assert.Equal(t, int64(2), countries)

	stored, err := p.store.Users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{entities.TitleCityExplorer, entities.TitleWorldTraveler, entities.TitleMeasurementMaster},
		titles(stored.Achievements))
}

func TestAchievementService_GeocodeFailureSkipsPlaces(t *testing.T) {
	tests := []struct {
		name     string
		geocoder geocode.ReverseGeocoder
	}{
		{"error", geocode.Func(func(context.Context, float64, float64) (geocode.Place, error) {
			return geocode.Place{}, errors.New("connection refused")
		})},
		{"unresolved", geocode.Noop{}},
		{"missing country", geocode.Func(func(context.Context, float64, float64) (geocode.Place, error) {
			return geocode.Place{City: "Milan"}, nil
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := setupPipeline(t, testConfig(), tt.geocoder, nil)
			ctx := context.Background()
			user := createUser(t, p.store.Users, "alice")

			var earned []entities.Achievement
			for i := 0; i < 5; i++ {
				got, err := p.achievements.OnMeasurement(ctx, user.ID, testHour, entities.NewLocation(45, 9))
				require.NoError(t, err)
				earned = append(earned, got...)
			}
			assert.Equal(t, []string{entities.TitleMeasurementMaster}, titles(earned))

			cities, err := p.store.PlaceVisits.CountDistinct(ctx, user.ID, entities.PlaceKindCity)
			require.NoError(t, err)
			assert.Zero(t, cities)
		})
	}
}

func TestAchievementService_UnknownUser(t *testing.T) {
	calls := 0
	geocoder := geocode.Func(func(context.Context, float64, float64) (geocode.Place, error) {
		calls++
		return geocode.Place{City: "Milan", Country: "Italy"}, nil
	})
	p := setupPipeline(t, testConfig(), geocoder, nil)

	earned, err := p.achievements.OnMeasurement(context.Background(), "ghost", testHour, entities.NewLocation(45, 9))
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.NotNil(t, earned)
	assert.Empty(t, earned)
	assert.Zero(t, calls, "place tracking is skipped")

	cities, err := p.store.PlaceVisits.CountDistinct(context.Background(), "ghost", entities.PlaceKindCity)
	require.NoError(t, err)
	assert.Zero(t, cities)
}

func TestAchievementService_CustomThresholds(t *testing.T) {
	cfg := testConfig()
	cfg.Achievements.MeasurementsThreshold = 1
	cfg.Achievements.CitiesThreshold = 1
	cfg.Achievements.CountriesThreshold = 1
	geocoder := geocode.Func(func(context.Context, float64, float64) (geocode.Place, error) {
		return geocode.Place{City: "Milan", Country: "Italy"}, nil
	})
	p := setupPipeline(t, cfg, geocoder, nil)
	user := createUser(t, p.store.Users, "alice")

	earned, err := p.achievements.OnMeasurement(context.Background(), user.ID, testHour, entities.NewLocation(45, 9))
	require.NoError(t, err)
	assert.Equal(t,
		[]string{entities.TitleMeasurementMaster, entities.TitleCityExplorer, entities.TitleWorldTraveler},
		titles(earned))
	assert.Equal(t, "Submitted 1 noise measurements", earned[0].Description)

	earned, err = p.achievements.OnMeasurement(context.Background(), user.ID, testHour, entities.NewLocation(45, 9))
	require.NoError(t, err)
	assert.Empty(t, earned)
}

func TestAchievementService_GeocodeBoundedByTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Geocoder.Timeout = 50 * time.Millisecond

	var hadDeadline bool
	geocoder := geocode.Func(func(ctx context.Context, _, _ float64) (geocode.Place, error) {
		_, hadDeadline = ctx.Deadline()
		<-ctx.Done()
		return geocode.Place{}, ctx.Err()
	})
	p := setupPipeline(t, cfg, geocoder, nil)
	user := createUser(t, p.store.Users, "alice")

	start := time.Now()
	earned, err := p.achievements.OnMeasurement(context.Background(), user.ID, testHour, entities.NewLocation(45, 9))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, hadDeadline)
	assert.Empty(t, earned)

	cities, err := p.store.PlaceVisits.CountDistinct(context.Background(), user.ID, entities.PlaceKindCity)
	require.NoError(t, err)
	assert.Zero(t, cities)
}

// flakyAwards fails the first award of one title.
type flakyAwards struct {
	repository.UserRepository
	title  string
	failed bool
}

func (f *flakyAwards) AddAchievement(ctx context.Context, userID string, a entities.Achievement) (bool, error) {
	if a.Title == f.title && !f.failed {
		f.failed = true
		return false, errors.New("write conflict")
	}
	return f.UserRepository.AddAchievement(ctx, userID, a)
}

func TestAchievementService_MissedPlaceAwardGrantedByNextPlace(t *testing.T) {
	geocoder := placesByLat(map[float64]geocode.Place{
		45.46: {City: "Milan", Country: "Italy"},
		41.90: {City: "Rome", Country: "Italy"},
		43.77: {City: "Florence", Country: "Italy"},
		40.85: {City: "Naples", Country: "Italy"},
	})
	p := setupPipeline(t, testConfig(), geocoder, nil)
	ctx := context.Background()
	user := createUser(t, p.store.Users, "alice")

	users := &flakyAwards{UserRepository: p.store.Users, title: entities.TitleCityExplorer}
	svc := NewAchievementService(users, p.store.PlaceVisits, geocoder, p.cfg)

	for i, lat := range []float64{45.46, 41.90, 43.77} {
		earned, err := svc.OnMeasurement(ctx, user.ID, testHour, entities.NewLocation(lat, 9))
		require.NoError(t, err)
		assert.Empty(t, earned, "reading %d", i+1)
	}
	require.True(t, users.failed, "award at the threshold crossing failed")

	// A repeat city is not a new place and does not retry.
	earned, err := svc.OnMeasurement(ctx, user.ID, testHour, entities.NewLocation(45.46, 9))
	require.NoError(t, err)
	assert.Empty(t, earned)

	earned, err = svc.OnMeasurement(ctx, user.ID, testHour, entities.NewLocation(40.85, 9))
	require.NoError(t, err)
	assert.Equal(t, []string{entities.TitleMeasurementMaster, entities.TitleCityExplorer}, titles(earned))
}
