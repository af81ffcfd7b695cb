package services

import (
	"context"
	"math"
	"sort"
	"time"

	"noisemap/internal/apperr"
	"noisemap/internal/config"
	"noisemap/internal/domain/entities"
	"noisemap/internal/geo"
	"noisemap/internal/metrics"
	"noisemap/internal/repository"
	"noisemap/pkg/utils"
)

// RadiusQuery asks for the buckets around a point.
type RadiusQuery struct {
	Lat      float64
	Lon      float64
	RadiusKm float64
	Window   entities.TimeWindow
}

// HeatPoint is one entry of a radius query answer. DistanceMeters is only
// set by strategies that compute it.
type HeatPoint struct {
	Geohash        string   `json:"geohash"`
	Lat            float64  `json:"lat"`
	Lon            float64  `json:"lon"`
	Intensity      float64  `json:"intensity"`
	Count          int64    `json:"count"`
	DistanceMeters *float64 `json:"distance_m,omitempty"`
}

// RadiusStrategy answers validated radius queries.
type RadiusStrategy interface {
	Name() string
	Nearby(ctx context.Context, q RadiusQuery) ([]HeatPoint, error)
}

// NativeStrategy delegates the spatial filter to the store and merges the
// hourly buckets of each cell into one point.
type NativeStrategy struct {
	aggregates repository.AggregateRepository
}

func NewNativeStrategy(aggregates repository.AggregateRepository) *NativeStrategy {
	return &NativeStrategy{aggregates: aggregates}
}

func (s *NativeStrategy) Name() string { return config.StrategyNative }

func (s *NativeStrategy) Nearby(ctx context.Context, q RadiusQuery) ([]HeatPoint, error) {
	buckets, err := s.aggregates.FindNear(ctx, entities.NewLocation(q.Lat, q.Lon), q.RadiusKm*1000, q.Window)
	if err != nil {
		return nil, err
	}

	type cell struct {
		point HeatPoint
		sum   float64
		dist  float64
	}
	cells := make(map[string]*cell)
	for _, b := range buckets {
		c, ok := cells[b.Key.Geohash]
		if !ok {
			c = &cell{
				point: HeatPoint{Geohash: b.Key.Geohash, Lat: b.Center.Latitude, Lon: b.Center.Longitude},
				dist:  b.DistanceMeters,
			}
			cells[b.Key.Geohash] = c
		}
		c.sum += b.SumNoise
		c.point.Count += b.Count
		c.dist = math.Min(c.dist, b.DistanceMeters)
	}

	points := make([]HeatPoint, 0, len(cells))
	for _, c := range cells {
		p := c.point
		p.Intensity = c.sum / float64(p.Count)
		d := c.dist
		p.DistanceMeters = &d
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool {
		if *points[i].DistanceMeters != *points[j].DistanceMeters {
			return *points[i].DistanceMeters < *points[j].DistanceMeters
		}
		return points[i].Geohash < points[j].Geohash
	})
	return points, nil
}

// GridStrategy enumerates every cell whose center lies within the radius and
// looks the buckets up by exact geohash. It needs nothing from the store but
// key lookups, at the cost of one point per bucket and no distances.
type GridStrategy struct {
	aggregates repository.AggregateRepository
	precision  int
	maxCells   int
}

func NewGridStrategy(aggregates repository.AggregateRepository, precision, maxCells int) *GridStrategy {
	return &GridStrategy{aggregates: aggregates, precision: precision, maxCells: maxCells}
}

func (s *GridStrategy) Name() string { return config.StrategyGrid }

func (s *GridStrategy) Nearby(ctx context.Context, q RadiusQuery) ([]HeatPoint, error) {
	cells := geo.CellsWithinRadius(q.Lat, q.Lon, q.RadiusKm, s.precision)
	metrics.RadiusQueryCells.Observe(float64(len(cells)))
	if s.maxCells > 0 && len(cells) > s.maxCells {
		return nil, apperr.Validation("query.grid", "radius covers %d cells, limit is %d", len(cells), s.maxCells)
	}
	if len(cells) == 0 {
		return []HeatPoint{}, nil
	}

	buckets, err := s.aggregates.FindByGeohashes(ctx, cells, q.Window)
	if err != nil {
		return nil, err
	}

	points := make([]HeatPoint, 0, len(buckets))
	for _, b := range buckets {
		lat, lon := geo.Decode(b.Key.Geohash)
		points = append(points, HeatPoint{
			Geohash:   b.Key.Geohash,
			Lat:       lat,
			Lon:       lon,
			Intensity: b.Intensity(),
			Count:     b.Count,
		})
	}
	return points, nil
}

// QueryService validates radius queries and runs them through the
// deployment's strategy.
type QueryService struct {
	strategy    RadiusStrategy
	maxRadiusKm float64
	opTimeout   time.Duration
}

// NewQueryService picks the strategy named by cfg.Query.Strategy.
func NewQueryService(aggregates repository.AggregateRepository, cfg *config.Config) *QueryService {
	var strategy RadiusStrategy
	switch cfg.Query.Strategy {
	case config.StrategyGrid:
		strategy = NewGridStrategy(aggregates, cfg.Geo.GeohashPrecision, cfg.Query.MaxGridCells)
	default:
		strategy = NewNativeStrategy(aggregates)
	}
	return NewQueryServiceWithStrategy(strategy, cfg)
}

func NewQueryServiceWithStrategy(strategy RadiusStrategy, cfg *config.Config) *QueryService {
	return &QueryService{
		strategy:    strategy,
		maxRadiusKm: cfg.Query.MaxRadiusKm,
		opTimeout:   cfg.Storage.OperationTimeout,
	}
}

// Strategy returns the name of the active strategy.
func (s *QueryService) Strategy() string {
	return s.strategy.Name()
}

// Nearby validates q, floors the window bounds to whole hours and returns the
// heat points around (q.Lat, q.Lon). The result is never nil.
func (s *QueryService) Nearby(ctx context.Context, q RadiusQuery) ([]HeatPoint, error) {
	const op = "query.nearby"
	switch {
	case !geo.ValidCoordinate(q.Lat, q.Lon):
		return nil, apperr.Validation(op, "coordinates out of range: lat=%v lon=%v", q.Lat, q.Lon)
	case math.IsNaN(q.RadiusKm) || q.RadiusKm <= 0:
		return nil, apperr.Validation(op, "radius must be positive")
	case s.maxRadiusKm > 0 && q.RadiusKm > s.maxRadiusKm:
		return nil, apperr.Validation(op, "radius %.3g km exceeds the %.3g km limit", q.RadiusKm, s.maxRadiusKm)
	case !q.Window.Start.IsZero() && !q.Window.End.IsZero() && q.Window.Start.After(q.Window.End):
		return nil, apperr.Validation(op, "start_timestamp is after end_timestamp")
	}
	q.Window = hourWindow(q.Window)

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	start := time.Now()
	points, err := s.strategy.Nearby(ctx, q)
	metrics.RecordRadiusQuery(s.strategy.Name(), time.Since(start), err)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if points == nil {
		points = []HeatPoint{}
	}
	return points, nil
}

// hourWindow maps timestamp bounds onto bucket bounds: a bucket belongs to
// the window when its hour overlaps it.
func hourWindow(w entities.TimeWindow) entities.TimeWindow {
	if !w.Start.IsZero() {
		w.Start = utils.HourBucket(w.Start)
	}
	if !w.End.IsZero() {
		w.End = utils.HourBucket(w.End)
	}
	return w
}
