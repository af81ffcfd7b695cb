package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"noisemap/internal/config"
	"noisemap/internal/domain/entities"
	"noisemap/internal/geocode"
	"noisemap/internal/repository"
	"noisemap/internal/repository/memory"
	"noisemap/pkg/utils"
)

var testHour = time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Auth.BcryptCost = 4
	return cfg
}

// pipeline wires the ingestion, achievement and query services over one
// in-memory store, the way main does.
type pipeline struct {
	cfg          *config.Config
	store        *repository.Store
	achievements *AchievementService
	ingestion    *IngestionService
	queries      *QueryService
}

func setupPipeline(t *testing.T, cfg *config.Config, geocoder geocode.ReverseGeocoder, notifier AchievementNotifier) *pipeline {
	t.Helper()
	store := memory.NewStore(cfg.Geo.GeohashPrecision)
	achievements := NewAchievementService(store.Users, store.PlaceVisits, geocoder, cfg)
	return &pipeline{
		cfg:          cfg,
		store:        store,
		achievements: achievements,
		ingestion:    NewIngestionService(store.Measurements, store.Aggregates, achievements, notifier, cfg),
		queries:      NewQueryService(store.Aggregates, cfg),
	}
}

func (p *pipeline) measurementCount() int {
	return p.store.Measurements.(*memory.MeasurementRepository).Len()
}

func createUser(t *testing.T, users repository.UserRepository, username string) *entities.User {
	t.Helper()
	u := entities.NewUser(utils.GenerateID(), username, "hash")
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func reading(userID string, lat, lon, noise float64, ts time.Time) MeasurementInput {
	return MeasurementInput{
		UserID:     userID,
		Timestamp:  ts,
		NoiseLevel: &noise,
		Duration:   60,
		Location:   entities.PointFrom(entities.NewLocation(lat, lon)),
	}
}

func noiseDB(v float64) *float64 {
	return &v
}

func titles(achievements []entities.Achievement) []string {
	out := make([]string, 0, len(achievements))
	for _, a := range achievements {
		out = append(out, a.Title)
	}
	return out
}

// placesByLat resolves readings to places keyed by their latitude.
func placesByLat(places map[float64]geocode.Place) geocode.Func {
	return func(_ context.Context, lat, _ float64) (geocode.Place, error) {
		p, ok := places[lat]
		if !ok {
			return geocode.Place{}, geocode.ErrUnresolved
		}
		return p, nil
	}
}
