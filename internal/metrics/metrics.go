// Package metrics registers the Prometheus instruments of the noise map and
// small helpers that record into them.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultOK      = "ok"
	ResultInvalid = "invalid"
	ResultError   = "error"
	ResultMiss    = "miss"
	ResultHit     = "hit"
	ResultOpen    = "breaker_open"
)

var (
	// Ingestion
	MeasurementsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noisemap_measurements_ingested_total",
			Help: "Noise readings processed by the ingestion pipeline, by outcome",
		},
		[]string{"result"}, // ok, invalid, error
	)

	Compensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noisemap_compensations_total",
			Help: "Raw readings deleted after a failed aggregate update, by outcome of the delete",
		},
		[]string{"result"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "noisemap_ingest_duration_seconds",
			Help:    "Time to ingest one reading including achievement tracking",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Queries
	RadiusQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noisemap_radius_queries_total",
			Help: "Radius queries served, by strategy and outcome",
		},
		[]string{"strategy", "result"},
	)

	RadiusQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "noisemap_radius_query_duration_seconds",
			Help:    "Radius query latency by strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	RadiusQueryCells = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "noisemap_radius_query_cells",
			Help:    "Geohash cells enumerated per grid query",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	// Achievements
	AchievementsAwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noisemap_achievements_awarded_total",
			Help: "Achievements newly awarded, by title",
		},
		[]string{"title"},
	)

	AchievementErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noisemap_achievement_errors_total",
			Help: "Failures while tracking achievements, by step",
		},
		[]string{"step"},
	)

	// Reverse geocoding
	GeocodeLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noisemap_geocode_lookups_total",
			Help: "Reverse geocoding lookups, by outcome",
		},
		[]string{"result"}, // hit, miss, ok, error, breaker_open
	)

	// Events
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noisemap_events_published_total",
			Help: "Achievement events published to the message broker",
		},
		[]string{"result"},
	)

	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noisemap_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "noisemap_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordIngest counts one ingestion attempt and its latency.
func RecordIngest(result string, duration time.Duration) {
	MeasurementsIngested.WithLabelValues(result).Inc()
	IngestDuration.Observe(duration.Seconds())
}

// RecordCompensation counts a compensation delete.
func RecordCompensation(err error) {
	if err != nil {
		Compensations.WithLabelValues(ResultError).Inc()
		return
	}
	Compensations.WithLabelValues(ResultOK).Inc()
}

// RecordRadiusQuery counts one radius query and its latency.
func RecordRadiusQuery(strategy string, duration time.Duration, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	RadiusQueries.WithLabelValues(strategy, result).Inc()
	RadiusQueryDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordAchievement counts a newly awarded achievement.
func RecordAchievement(title string) {
	AchievementsAwarded.WithLabelValues(title).Inc()
}

// RecordAchievementError counts a failed achievement step.
func RecordAchievementError(step string) {
	AchievementErrors.WithLabelValues(step).Inc()
}

// RecordGeocode counts a reverse geocoding outcome.
func RecordGeocode(result string) {
	GeocodeLookups.WithLabelValues(result).Inc()
}

// RecordPublish counts an event publish attempt.
func RecordPublish(err error) {
	if err != nil {
		EventsPublished.WithLabelValues(ResultError).Inc()
		return
	}
	EventsPublished.WithLabelValues(ResultOK).Inc()
}

// RecordHTTPRequest counts one HTTP request and its latency.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
