package services

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noisemap/internal/apperr"
	"noisemap/internal/domain/entities"
	"noisemap/internal/geo"
	"noisemap/internal/logging"
	"noisemap/internal/repository"
)

// failingAggregates rejects every increment and serves reads from the
// embedded repository.
type failingAggregates struct {
	repository.AggregateRepository
	err error
}

func (f failingAggregates) Increment(context.Context, entities.BucketKey, float64, entities.Location) error {
	return f.err
}

func TestIngestionService_Process(t *testing.T) {
	p := setupPipeline(t, testConfig(), nil, nil)
	ctx := context.Background()
	user := createUser(t, p.store.Users, "alice")

	ts := testHour.Add(17 * time.Minute)
	res, err := p.ingestion.Process(ctx, reading(user.ID, 45, 9, 80, ts))
	require.NoError(t, err)

	assert.NotEmpty(t, res.MeasurementID)
	assert.Equal(t, geo.Encode(45, 9, 7), res.Geohash)
	assert.Equal(t, testHour, res.TimeBucket)
	assert.NotNil(t, res.Achievements)
	assert.Empty(t, res.Achievements)

	stored, err := p.store.Measurements.GetByID(ctx, res.MeasurementID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.UserID)
	assert.Equal(t, 80.0, stored.NoiseLevel)
	assert.Equal(t, res.Geohash, stored.Geohash)

	buckets, err := p.store.Aggregates.FindByGeohashes(ctx, []string{res.Geohash}, entities.TimeWindow{})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(1), buckets[0].Count)
	assert.Equal(t, 80.0, buckets[0].SumNoise)
	assert.Equal(t, entities.NewLocation(45, 9), buckets[0].Center)
}

func TestIngestionService_SameHourSameCellAccumulates(t *testing.T) {
	p := setupPipeline(t, testConfig(), nil, nil)
	ctx := context.Background()
	user := createUser(t, p.store.Users, "alice")

	first, err := p.ingestion.Process(ctx, reading(user.ID, 45, 9, 80, testHour.Add(5*time.Minute)))
	require.NoError(t, err)
	second, err := p.ingestion.Process(ctx, reading(user.ID, 45.0001, 9.0001, 60, testHour.Add(50*time.Minute)))
	require.NoError(t, err)
	require.Equal(t, first.Geohash, second.Geohash)

	buckets, err := p.store.Aggregates.FindByGeohashes(ctx, []string{first.Geohash}, entities.TimeWindow{})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(2), buckets[0].Count)
	assert.InDelta(t, 70.0, buckets[0].Intensity(), 1e-9)
	assert.Equal(t, entities.NewLocation(45, 9), buckets[0].Center, "center stays at the first reading")
}

func TestIngestionService_Validation(t *testing.T) {
	valid := reading("u1", 45, 9, 80, testHour)

	tests := []struct {
		name   string
		mutate func(in *MeasurementInput)
	}{
		{"missing user", func(in *MeasurementInput) { in.UserID = "" }},
		{"missing timestamp", func(in *MeasurementInput) { in.Timestamp = time.Time{} }},
		{"wrong geometry type", func(in *MeasurementInput) { in.Location.Type = "Polygon" }},
		{"too many coordinates", func(in *MeasurementInput) { in.Location.Coordinates = []float64{9, 45, 0} }},
		{"missing coordinates", func(in *MeasurementInput) { in.Location.Coordinates = nil }},
		{"latitude out of range", func(in *MeasurementInput) { in.Location.Coordinates = []float64{9, 91} }},
		{"longitude out of range", func(in *MeasurementInput) { in.Location.Coordinates = []float64{-180.5, 45} }},
		{"missing noise level", func(in *MeasurementInput) { in.NoiseLevel = nil }},
		{"NaN noise", func(in *MeasurementInput) { in.NoiseLevel = noiseDB(math.NaN()) }},
		{"infinite noise", func(in *MeasurementInput) { in.NoiseLevel = noiseDB(math.Inf(1)) }},
		{"noise above range", func(in *MeasurementInput) { in.NoiseLevel = noiseDB(1e308) }},
		{"negative noise", func(in *MeasurementInput) { in.NoiseLevel = noiseDB(-1) }},
		{"negative duration", func(in *MeasurementInput) { in.Duration = -1 }},
		{"NaN duration", func(in *MeasurementInput) { in.Duration = math.NaN() }},
		{"duration above a day", func(in *MeasurementInput) { in.Duration = 1e300 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := setupPipeline(t, testConfig(), nil, nil)
			in := valid
			in.Location.Coordinates = append([]float64(nil), valid.Location.Coordinates...)
			tt.mutate(&in)

			_, err := p.ingestion.Process(context.Background(), in)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Zero(t, p.measurementCount(), "nothing is written for invalid input")
		})
	}
}

func TestIngestionService_AcceptsBoundaryCoordinates(t *testing.T) {
	p := setupPipeline(t, testConfig(), nil, nil)
	user := createUser(t, p.store.Users, "alice")

	for _, c := range [][2]float64{{90, 180}, {-90, -180}, {0, 0}} {
		_, err := p.ingestion.Process(context.Background(), reading(user.ID, c[0], c[1], 50, testHour))
		require.NoError(t, err, "lat=%v lon=%v", c[0], c[1])
	}
	assert.Equal(t, 3, p.measurementCount())
}

func TestIngestionService_CompensatesFailedIncrement(t *testing.T) {
	p := setupPipeline(t, testConfig(), nil, nil)
	user := createUser(t, p.store.Users, "alice")

	boom := errors.New("aggregate store unavailable")
	svc := NewIngestionService(
		p.store.Measurements,
		failingAggregates{AggregateRepository: p.store.Aggregates, err: boom},
		p.achievements,
		nil,
		p.cfg,
	)

	_, err := svc.Process(context.Background(), reading(user.ID, 45, 9, 80, testHour))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	assert.Zero(t, p.measurementCount(), "raw record is deleted again")

	stored, err := p.store.Users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.MeasurementCount, "achievements do not run for a failed reading")
}

// cancellingAggregates cancels the request while the increment is in flight.
type cancellingAggregates struct {
	repository.AggregateRepository
	cancel context.CancelFunc
}

func (c cancellingAggregates) Increment(ctx context.Context, _ entities.BucketKey, _ float64, _ entities.Location) error {
	c.cancel()
	return ctx.Err()
}

func TestIngestionService_CompensatesAfterCancellation(t *testing.T) {
	p := setupPipeline(t, testConfig(), nil, nil)
	user := createUser(t, p.store.Users, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := NewIngestionService(
		p.store.Measurements,
		cancellingAggregates{AggregateRepository: p.store.Aggregates, cancel: cancel},
		p.achievements,
		nil,
		p.cfg,
	)

	_, err := svc.Process(ctx, reading(user.ID, 45, 9, 80, testHour))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))
	assert.Zero(t, p.measurementCount(), "compensation runs on a cancelled request")
}

func TestIngestionService_UnknownUserStillIngests(t *testing.T) {
	p := setupPipeline(t, testConfig(), nil, nil)

	res, err := p.ingestion.Process(context.Background(), reading("ghost", 45, 9, 80, testHour))
	require.NoError(t, err)
	assert.Empty(t, res.Achievements)
	assert.Equal(t, 1, p.measurementCount())
}

func TestIngestionService_NoiseRangeBounds(t *testing.T) {
	p := setupPipeline(t, testConfig(), nil, nil)
	user := createUser(t, p.store.Users, "alice")

	for _, noise := range []float64{MinNoiseDB, MaxNoiseDB} {
		_, err := p.ingestion.Process(context.Background(), reading(user.ID, 45, 9, noise, testHour))
		require.NoError(t, err, "noise=%v", noise)
	}

	buckets, err := p.store.Aggregates.FindByGeohashes(context.Background(), []string{geo.Encode(45, 9, 7)}, entities.TimeWindow{})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 100.0, buckets[0].Intensity())
}

func TestIngestionService_OutOfRangeNoiseLeavesBucketUntouched(t *testing.T) {
	p := setupPipeline(t, testConfig(), nil, nil)
	user := createUser(t, p.store.Users, "alice")
	ctx := context.Background()

	_, err := p.ingestion.Process(ctx, reading(user.ID, 45, 9, 70, testHour))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := p.ingestion.Process(ctx, reading(user.ID, 45, 9, 1e308, testHour))
		require.Error(t, err)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	}

	points, err := p.queries.Nearby(ctx, RadiusQuery{Lat: 45, Lon: 9, RadiusKm: 1})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 70.0, points[0].Intensity)
	assert.Equal(t, int64(1), points[0].Count)
}

func TestIngestionService_FractionalDuration(t *testing.T) {
	p := setupPipeline(t, testConfig(), nil, nil)
	user := createUser(t, p.store.Users, "alice")

	in := reading(user.ID, 45, 9, 90, testHour)
	in.Duration = 3.5
	res, err := p.ingestion.Process(context.Background(), in)
	require.NoError(t, err)

	stored, err := p.store.Measurements.GetByID(context.Background(), res.MeasurementID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Duration, "rounded to whole seconds")
}

// failingMeasurements fails inserts or deletes on demand and counts deletes.
type failingMeasurements struct {
	repository.MeasurementRepository
	insertErr error
	deleteErr error
	deletes   int
}

func (f *failingMeasurements) Insert(ctx context.Context, m *entities.RawMeasurement) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.MeasurementRepository.Insert(ctx, m)
}

func (f *failingMeasurements) Delete(ctx context.Context, id string) error {
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.MeasurementRepository.Delete(ctx, id)
}

func TestIngestionService_FailedInsertSkipsAggregate(t *testing.T) {
	p := setupPipeline(t, testConfig(), nil, nil)
	user := createUser(t, p.store.Users, "alice")

	boom := errors.New("measurement store unavailable")
	measurements := &failingMeasurements{MeasurementRepository: p.store.Measurements, insertErr: boom}
	svc := NewIngestionService(measurements, p.store.Aggregates, p.achievements, nil, p.cfg)

	_, err := svc.Process(context.Background(), reading(user.ID, 45, 9, 80, testHour))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Zero(t, measurements.deletes, "nothing to compensate")

	buckets, err := p.store.Aggregates.FindByGeohashes(context.Background(), []string{geo.Encode(45, 9, 7)}, entities.TimeWindow{})
	require.NoError(t, err)
	assert.Empty(t, buckets)
}

func TestIngestionService_FailedCompensationKeepsAggregateError(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger()
	logging.SetLogger(logging.NewTestLogger(&buf))
	defer logging.SetLogger(prev)

	p := setupPipeline(t, testConfig(), nil, nil)
	user := createUser(t, p.store.Users, "alice")

	aggErr := errors.New("aggregate store unavailable")
	delErr := errors.New("delete timed out")
	measurements := &failingMeasurements{MeasurementRepository: p.store.Measurements, deleteErr: delErr}
	svc := NewIngestionService(
		measurements,
		failingAggregates{AggregateRepository: p.store.Aggregates, err: aggErr},
		p.achievements,
		nil,
		p.cfg,
	)

	_, err := svc.Process(context.Background(), reading(user.ID, 45, 9, 80, testHour))
	require.Error(t, err)
	assert.ErrorIs(t, err, aggErr)
	assert.NotErrorIs(t, err, delErr)
	assert.Equal(t, 1, measurements.deletes)
	assert.Equal(t, 1, p.measurementCount(), "raw record is left behind")

	assert.Contains(t, buf.String(), "compensation failed")
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "delete timed out")
}
