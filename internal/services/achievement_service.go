package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"noisemap/internal/apperr"
	"noisemap/internal/config"
	"noisemap/internal/domain/entities"
	"noisemap/internal/geocode"
	"noisemap/internal/logging"
	"noisemap/internal/metrics"
	"noisemap/internal/repository"
)

// Metric names used in logs and the achievement error counter.
const (
	stepMeasurements = "measurements"
	stepGeocode      = "geocode"
	stepCities       = "cities"
	stepCountries    = "countries"
)

// Catalogue is the set of achievements a deployment awards, with descriptions
// rendered from its thresholds.
type Catalogue struct {
	MeasurementMaster entities.Achievement
	CityExplorer      entities.Achievement
	WorldTraveler     entities.Achievement
}

func NewCatalogue(cfg config.AchievementsConfig) Catalogue {
	return Catalogue{
		MeasurementMaster: entities.Achievement{
			Title:       entities.TitleMeasurementMaster,
			Description: fmt.Sprintf("Submitted %d noise measurements", cfg.MeasurementsThreshold),
		},
		CityExplorer: entities.Achievement{
			Title:       entities.TitleCityExplorer,
			Description: fmt.Sprintf("Measured noise in %d different cities", cfg.CitiesThreshold),
		},
		WorldTraveler: entities.Achievement{
			Title:       entities.TitleWorldTraveler,
			Description: fmt.Sprintf("Measured noise in %d different countries", cfg.CountriesThreshold),
		},
	}
}

// AchievementService is the counter-threshold state machine. Every counter
// it reads is the value returned by an atomic store operation, and every
// award goes through an idempotent set union, so concurrent readings from the
// same user can neither skip nor double-award a title.
type AchievementService struct {
	users          repository.UserRepository
	places         repository.PlaceVisitRepository
	geocoder       geocode.ReverseGeocoder
	thresholds     config.AchievementsConfig
	catalogue      Catalogue
	opTimeout      time.Duration
	geocodeTimeout time.Duration
	log            zerolog.Logger
}

func NewAchievementService(
	users repository.UserRepository,
	places repository.PlaceVisitRepository,
	geocoder geocode.ReverseGeocoder,
	cfg *config.Config,
) *AchievementService {
	if geocoder == nil {
		geocoder = geocode.Noop{}
	}
	return &AchievementService{
		users:          users,
		places:         places,
		geocoder:       geocoder,
		thresholds:     cfg.Achievements,
		catalogue:      NewCatalogue(cfg.Achievements),
		opTimeout:      cfg.Storage.OperationTimeout,
		geocodeTimeout: cfg.Geocoder.Timeout,
		log:            logging.Component("achievements"),
	}
}

// OnMeasurement updates the user's counters for one accepted reading and
// returns the achievements earned by this call, never nil. The error is
// non-nil only when the measurement counter could not be updated; failures in
// the place metrics are logged and skipped.
func (s *AchievementService) OnMeasurement(ctx context.Context, userID string, ts time.Time, loc entities.Location) ([]entities.Achievement, error) {
	earned := []entities.Achievement{}

	count, err := s.incrementCount(ctx, userID)
	if err != nil {
		metrics.RecordAchievementError(stepMeasurements)
		return earned, err
	}
	if count == s.thresholds.MeasurementsThreshold {
		if s.offer(ctx, userID, s.catalogue.MeasurementMaster, stepMeasurements) {
			earned = append(earned, s.catalogue.MeasurementMaster)
		}
	}

	place, err := s.resolve(ctx, loc)
	if err == nil && !place.Complete() {
		err = geocode.ErrUnresolved
	}
	if err != nil {
		metrics.RecordAchievementError(stepGeocode)
		s.log.Debug().
			Err(apperr.GeocodeUnavailable("achievements.geocode", err)).
			Str("user_id", userID).
			Float64("lat", loc.Latitude).
			Float64("lon", loc.Longitude).
			Msg("place achievements skipped")
		return earned, nil
	}

	if s.trackPlace(ctx, userID, entities.PlaceKindCity, place.City, place.Country, ts, s.thresholds.CitiesThreshold, s.catalogue.CityExplorer, stepCities) {
		earned = append(earned, s.catalogue.CityExplorer)
	}
	if s.trackPlace(ctx, userID, entities.PlaceKindCountry, place.Country, "", ts, s.thresholds.CountriesThreshold, s.catalogue.WorldTraveler, stepCountries) {
		earned = append(earned, s.catalogue.WorldTraveler)
	}
	return earned, nil
}

// resolve bounds the whole lookup, rate-limiter wait included, by the
// geocoder timeout.
func (s *AchievementService) resolve(ctx context.Context, loc entities.Location) (geocode.Place, error) {
	ctx, cancel := context.WithTimeout(ctx, s.geocodeTimeout)
	defer cancel()
	return s.geocoder.Resolve(ctx, loc.Latitude, loc.Longitude)
}

func (s *AchievementService) incrementCount(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	count, err := s.users.IncrementMeasurementCount(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return 0, apperr.NotFound("achievements.count", err)
	}
	if err != nil {
		return 0, apperr.Wrap("achievements.count", err)
	}
	return count, nil
}

// trackPlace records the visit and, only when this call created the row,
// re-counts the user's distinct places of that kind. A count at or past the
// threshold offers the achievement; the set union decides whether it is new.
func (s *AchievementService) trackPlace(
	ctx context.Context,
	userID string,
	kind entities.PlaceKind,
	place, country string,
	ts time.Time,
	threshold int64,
	award entities.Achievement,
	step string,
) bool {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	created, err := s.places.RecordVisit(ctx, userID, kind, place, country, ts)
	if err != nil {
		s.fail(step, userID, apperr.Wrap("achievements.record_visit", err))
		return false
	}
	if !created {
		return false
	}

	distinct, err := s.places.CountDistinct(ctx, userID, kind)
	if err != nil {
		s.fail(step, userID, apperr.Wrap("achievements.count_places", err))
		return false
	}
	// At or past, not exactly at: a crossing whose award write failed, or
	// two visits racing past the threshold together, is granted by the next
	// new place.
	if distinct < threshold {
		return false
	}
	return s.offer(ctx, userID, award, step)
}

// offer adds a to the user's set and reports whether it was new.
func (s *AchievementService) offer(ctx context.Context, userID string, a entities.Achievement, step string) bool {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	added, err := s.users.AddAchievement(ctx, userID, a)
	if err != nil {
		s.fail(step, userID, apperr.Wrap("achievements.award", err))
		return false
	}
	if added {
		metrics.RecordAchievement(a.Title)
	}
	return added
}

func (s *AchievementService) fail(step, userID string, err error) {
	metrics.RecordAchievementError(step)
	s.log.Warn().Err(err).Str("step", step).Str("user_id", userID).Msg("achievement step failed")
}
