// Package geocode maps coordinates to the city and country the achievement
// engine counts. Resolvers may be slow, rate limited or down; callers treat
// every error as "place unknown for this reading" and carry on.
package geocode

import (
	"context"
	"errors"

	"noisemap/internal/config"
)

// ErrUnresolved means the resolver answered but found no city or country.
var ErrUnresolved = errors.New("location could not be resolved to a city and country")

// Place is the administrative area a point falls in.
type Place struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// Complete reports whether both names are known.
func (p Place) Complete() bool {
	return p.City != "" && p.Country != ""
}

// ReverseGeocoder resolves a point to a Place.
type ReverseGeocoder interface {
	Resolve(ctx context.Context, lat, lon float64) (Place, error)
}

// Func adapts a plain function to ReverseGeocoder.
type Func func(ctx context.Context, lat, lon float64) (Place, error)

func (f Func) Resolve(ctx context.Context, lat, lon float64) (Place, error) {
	return f(ctx, lat, lon)
}

// Noop never resolves anything. It is used when no provider is configured,
// which disables place-based achievements.
type Noop struct{}

func (Noop) Resolve(context.Context, float64, float64) (Place, error) {
	return Place{}, ErrUnresolved
}

// New builds the resolver described by cfg: the provider, wrapped in a cache
// when CacheSize is positive.
func New(cfg config.GeocoderConfig) ReverseGeocoder {
	var g ReverseGeocoder
	switch cfg.Provider {
	case config.GeocoderNominatim:
		g = NewNominatim(cfg)
	default:
		return Noop{}
	}
	if cfg.CacheSize > 0 {
		g = NewCached(g, cfg.CacheSize, cfg.CacheTTL, cfg.CachePrecision)
	}
	return g
}
