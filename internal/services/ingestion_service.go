package services

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"noisemap/internal/apperr"
	"noisemap/internal/config"
	"noisemap/internal/domain/entities"
	"noisemap/internal/geo"
	"noisemap/internal/logging"
	"noisemap/internal/metrics"
	"noisemap/internal/repository"
	"noisemap/pkg/utils"
)

// Accepted reading ranges. Durations are seconds; clients may send
// fractions, which are rounded to whole seconds.
const (
	MinNoiseDB         = 0.0
	MaxNoiseDB         = 200.0
	MaxDurationSeconds = 24 * 60 * 60
)

// MeasurementInput is one reading as submitted by a client. NoiseLevel is a
// pointer so a missing value can be told apart from 0 dB.
type MeasurementInput struct {
	UserID     string            `json:"user_id"`
	Timestamp  time.Time         `json:"timestamp"`
	NoiseLevel *float64          `json:"noise_level"`
	Duration   float64           `json:"duration"`
	Location   entities.GeoPoint `json:"location"`
}

// IngestionResult describes an accepted reading.
type IngestionResult struct {
	MeasurementID string                 `json:"id"`
	Geohash       string                 `json:"geohash"`
	TimeBucket    time.Time              `json:"time_bucket"`
	Achievements  []entities.Achievement `json:"achievements"`
}

// MeasurementObserver is told about every accepted reading and answers with
// the achievements it earned.
type MeasurementObserver interface {
	OnMeasurement(ctx context.Context, userID string, ts time.Time, loc entities.Location) ([]entities.Achievement, error)
}

// AchievementNotifier is told about achievements earned by a reading.
type AchievementNotifier interface {
	NotifyAchievementsEarned(ctx context.Context, userID, measurementID string, earned []entities.Achievement)
}

// IngestionService accepts readings: it stores the raw record, folds it into
// its hourly geohash bucket and runs the achievement engine.
//
// The raw insert and the aggregate increment are two separate atomic writes.
// When the increment fails the raw record is deleted again, so a caller that
// sees an error can retry without leaving an orphaned reading. The reverse
// window (increment committed, response lost) is not closed; a retry then
// counts the reading twice in its bucket.
type IngestionService struct {
	measurements repository.MeasurementRepository
	aggregates   repository.AggregateRepository
	observer     MeasurementObserver
	notifier     AchievementNotifier
	precision    int
	opTimeout    time.Duration
	log          zerolog.Logger
}

func NewIngestionService(
	measurements repository.MeasurementRepository,
	aggregates repository.AggregateRepository,
	observer MeasurementObserver,
	notifier AchievementNotifier,
	cfg *config.Config,
) *IngestionService {
	return &IngestionService{
		measurements: measurements,
		aggregates:   aggregates,
		observer:     observer,
		notifier:     notifier,
		precision:    cfg.Geo.GeohashPrecision,
		opTimeout:    cfg.Storage.OperationTimeout,
		log:          logging.Component("ingestion"),
	}
}

// Validate checks a reading before anything is written.
func (in MeasurementInput) Validate() (entities.Location, error) {
	const op = "ingest.validate"
	switch {
	case in.UserID == "":
		return entities.Location{}, apperr.Validation(op, "user_id is required")
	case in.Timestamp.IsZero():
		return entities.Location{}, apperr.Validation(op, "timestamp is required")
	case in.Location.Type != entities.GeoPointType:
		return entities.Location{}, apperr.Validation(op, "location.type must be %q, got %q", entities.GeoPointType, in.Location.Type)
	case len(in.Location.Coordinates) != 2:
		return entities.Location{}, apperr.Validation(op, "location.coordinates must be [longitude, latitude], got %d values", len(in.Location.Coordinates))
	}

	loc := in.Location.Location()
	switch {
	case !geo.ValidCoordinate(loc.Latitude, loc.Longitude):
		return entities.Location{}, apperr.Validation(op, "coordinates out of range: lat=%v lon=%v", loc.Latitude, loc.Longitude)
	case in.NoiseLevel == nil:
		return entities.Location{}, apperr.Validation(op, "noise_level is required")
	case math.IsNaN(*in.NoiseLevel) || *in.NoiseLevel < MinNoiseDB || *in.NoiseLevel > MaxNoiseDB:
		return entities.Location{}, apperr.Validation(op, "noise_level must be between %g and %g dB", MinNoiseDB, MaxNoiseDB)
	case math.IsNaN(in.Duration) || in.Duration < 0 || in.Duration > MaxDurationSeconds:
		return entities.Location{}, apperr.Validation(op, "duration must be between 0 and %d seconds", MaxDurationSeconds)
	}
	return loc, nil
}

// Process ingests one reading. Validation failures write nothing. A failed
// raw insert is returned as is; a failed aggregate increment is compensated
// by deleting the raw record before the error is returned. Achievement
// failures are logged and never fail the reading.
func (s *IngestionService) Process(ctx context.Context, in MeasurementInput) (*IngestionResult, error) {
	start := time.Now()

	loc, err := in.Validate()
	if err != nil {
		metrics.RecordIngest(metrics.ResultInvalid, time.Since(start))
		return nil, err
	}

	gh := geo.Encode(loc.Latitude, loc.Longitude, s.precision)
	m := entities.NewRawMeasurement(utils.GenerateID(), in.UserID, in.Timestamp.UTC(), *in.NoiseLevel, int(math.Round(in.Duration)), loc, gh)

	if err := s.insert(ctx, m); err != nil {
		metrics.RecordIngest(metrics.ResultError, time.Since(start))
		return nil, apperr.Wrap("ingest.insert", err)
	}

	key := entities.BucketKey{Geohash: gh, TimeBucket: utils.HourBucket(m.Timestamp)}
	if err := s.increment(ctx, key, m.NoiseLevel, loc); err != nil {
		s.compensate(ctx, m.ID, err)
		metrics.RecordIngest(metrics.ResultError, time.Since(start))
		return nil, apperr.Wrap("ingest.aggregate", err)
	}

	earned, err := s.observer.OnMeasurement(ctx, in.UserID, m.Timestamp, loc)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", in.UserID).Str("measurement_id", m.ID).Msg("achievement tracking skipped")
	}
	if earned == nil {
		earned = []entities.Achievement{}
	}
	if s.notifier != nil {
		s.notifier.NotifyAchievementsEarned(ctx, in.UserID, m.ID, earned)
	}

	metrics.RecordIngest(metrics.ResultOK, time.Since(start))
	s.log.Debug().
		Str("measurement_id", m.ID).
		Str("geohash", gh).
		Time("time_bucket", key.TimeBucket).
		Int("achievements", len(earned)).
		Msg("measurement ingested")

	return &IngestionResult{
		MeasurementID: m.ID,
		Geohash:       gh,
		TimeBucket:    key.TimeBucket,
		Achievements:  earned,
	}, nil
}

func (s *IngestionService) insert(ctx context.Context, m *entities.RawMeasurement) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.measurements.Insert(ctx, m)
}

func (s *IngestionService) increment(ctx context.Context, key entities.BucketKey, noise float64, center entities.Location) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.aggregates.Increment(ctx, key, noise, center)
}

// compensate deletes the raw record of a reading whose aggregate increment
// failed. It runs even when the request context is already cancelled, since
// the raw insert has committed either way.
func (s *IngestionService) compensate(ctx context.Context, id string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout)
	defer cancel()

	err := s.measurements.Delete(ctx, id)
	metrics.RecordCompensation(err)
	if err != nil {
		s.log.Warn().
			Err(err).
			AnErr("cause", cause).
			Str("measurement_id", id).
			Msg("compensation failed; raw measurement left without aggregate")
		return
	}
	s.log.Info().AnErr("cause", cause).Str("measurement_id", id).Msg("raw measurement compensated")
}
