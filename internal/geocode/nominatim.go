package geocode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"noisemap/internal/config"
	"noisemap/internal/logging"
	"noisemap/internal/metrics"
)

// Nominatim resolves places through an OpenStreetMap Nominatim /reverse
// endpoint. Requests are paced by a token bucket (the public instance allows
// one per second) and guarded by a circuit breaker so an outage costs one
// fast failure per reading instead of a full timeout.
type Nominatim struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[Place]
}

// nominatimResponse holds the parts of a jsonv2 reverse response we read.
// Smaller settlements report themselves as town or village instead of city.
type nominatimResponse struct {
	Error   string `json:"error"`
	Address struct {
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
		Country      string `json:"country"`
	} `json:"address"`
}

func (r nominatimResponse) place() Place {
	a := r.Address
	for _, city := range []string{a.City, a.Town, a.Village, a.Municipality} {
		if city != "" {
			return Place{City: city, Country: a.Country}
		}
	}
	return Place{Country: a.Country}
}

func NewNominatim(cfg config.GeocoderConfig) *Nominatim {
	const name = "nominatim"
	return &Nominatim{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker[Place](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			// An answer without a place is still a healthy upstream.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrUnresolved)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("geocoder circuit breaker state change")
			},
		}),
	}
}

// Resolve waits for a rate-limiter token, then performs the lookup through
// the breaker.
func (n *Nominatim) Resolve(ctx context.Context, lat, lon float64) (Place, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		metrics.RecordGeocode(metrics.ResultError)
		return Place{}, fmt.Errorf("geocode rate limit: %w", err)
	}

	place, err := n.breaker.Execute(func() (Place, error) {
		return n.lookup(ctx, lat, lon)
	})
	switch {
	case err == nil:
		metrics.RecordGeocode(metrics.ResultOK)
	case errors.Is(err, ErrUnresolved):
		metrics.RecordGeocode(metrics.ResultMiss)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordGeocode(metrics.ResultOpen)
	default:
		metrics.RecordGeocode(metrics.ResultError)
	}
	return place, err
}

func (n *Nominatim) lookup(ctx context.Context, lat, lon float64) (Place, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("zoom", "10")
	q.Set("addressdetails", "1")
	q.Set("accept-language", "en")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return Place{}, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := n.client.Do(req)
	if err != nil {
		return Place{}, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Place{}, ErrUnresolved
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return Place{}, fmt.Errorf("geocode request: unexpected status %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Place{}, fmt.Errorf("decode geocode response: %w", err)
	}
	logging.Debug().Dur("took", time.Since(start)).Float64("lat", lat).Float64("lon", lon).Msg("geocode lookup")

	if body.Error != "" {
		return Place{}, ErrUnresolved
	}
	place := body.place()
	if !place.Complete() {
		return Place{}, ErrUnresolved
	}
	return place, nil
}
