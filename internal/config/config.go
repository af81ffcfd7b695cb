// Package config centralizes all application configuration into typed structs.
//
// Go Learning Note — Configuration Management:
// Configuration is layered: typed defaults from NewDefaultConfig, then an
// optional YAML file, then environment variables (see Load). Using typed
// structs (not raw strings/maps) gives you compile-time safety and IDE
// autocompletion. The `koanf` struct tags name each field's key in the YAML
// file, and the `validate` tags are checked by go-playground/validator after
// all layers are merged.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the top-level configuration container. Grouping related settings
// into sub-structs keeps the config organized as the application grows.
//
// Go Learning Note — Struct Composition:
// Go doesn't have classes or inheritance. Instead, you compose structs by
// nesting them. Here Config "has a" ServerConfig, StorageConfig, etc. This is
// composition over inheritance, a core Go design principle.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Storage      StorageConfig      `koanf:"storage"`
	Geo          GeoConfig          `koanf:"geo"`
	Query        QueryConfig        `koanf:"query"`
	Achievements AchievementsConfig `koanf:"achievements"`
	Geocoder     GeocoderConfig     `koanf:"geocoder"`
	Exposure     ExposureConfig     `koanf:"exposure"`
	Auth         AuthConfig         `koanf:"auth"`
	Events       EventsConfig       `koanf:"events"`
	Metrics      MetricsConfig      `koanf:"metrics"`
}

// ServerConfig holds HTTP server settings.
//
// Go Learning Note — time.Duration:
// Go uses time.Duration (an int64 of nanoseconds) instead of raw integers for
// timeouts and intervals. In YAML and environment variables the same fields
// are written as strings like "10s" or "1m30s".
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	Mode            string        `koanf:"mode" validate:"oneof=debug release test"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig selects the zerolog level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// StorageConfig selects and configures the persistence backend.
// OperationTimeout bounds every single store call.
type StorageConfig struct {
	Driver           string        `koanf:"driver" validate:"oneof=memory mongo sqlite"`
	OperationTimeout time.Duration `koanf:"operation_timeout" validate:"gt=0"`
	Mongo            MongoConfig   `koanf:"mongo"`
	SQLite           SQLiteConfig  `koanf:"sqlite"`
}

// MongoConfig configures the MongoDB store. URI wins over the individual
// host/port/credential fields when set.
type MongoConfig struct {
	URI            string        `koanf:"uri"`
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port" validate:"min=0,max=65535"`
	Username       string        `koanf:"username"`
	Password       string        `koanf:"password"`
	Database       string        `koanf:"database" validate:"required"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gt=0"`
}

// ConnectionURI returns URI, or builds one from the individual fields.
func (m MongoConfig) ConnectionURI() string {
	if m.URI != "" {
		return m.URI
	}
	u := url.URL{Scheme: "mongodb", Host: fmt.Sprintf("%s:%d", m.Host, m.Port)}
	if m.Username != "" {
		u.User = url.UserPassword(m.Username, m.Password)
	}
	return u.String()
}

// SQLiteConfig configures the embedded SQLite store.
type SQLiteConfig struct {
	Path        string        `koanf:"path" validate:"required"`
	BusyTimeout time.Duration `koanf:"busy_timeout" validate:"gte=0"`
}

// GeoConfig controls geohash encoding precision. Precision 7 ≈ 153 m cells.
// Changing it on a populated store leaves old buckets at the old precision.
type GeoConfig struct {
	GeohashPrecision int `koanf:"geohash_precision" validate:"min=1,max=12"`
}

// Query strategies.
const (
	StrategyNative = "native"
	StrategyGrid   = "grid"
)

// QueryConfig selects the radius query strategy and its limits.
type QueryConfig struct {
	Strategy     string  `koanf:"strategy" validate:"oneof=native grid"`
	MaxRadiusKm  float64 `koanf:"max_radius_km" validate:"gt=0"`
	MaxGridCells int     `koanf:"max_grid_cells" validate:"min=1"`
}

// AchievementsConfig holds the counter thresholds that unlock each title.
type AchievementsConfig struct {
	MeasurementsThreshold int64 `koanf:"measurements_threshold" validate:"min=1"`
	CitiesThreshold       int64 `koanf:"cities_threshold" validate:"min=1"`
	CountriesThreshold    int64 `koanf:"countries_threshold" validate:"min=1"`
}

// Geocoder providers.
const (
	GeocoderNominatim = "nominatim"
	GeocoderNone      = "none"
)

// GeocoderConfig configures reverse geocoding for place achievements.
type GeocoderConfig struct {
	Provider        string        `koanf:"provider" validate:"oneof=nominatim none"`
	BaseURL         string        `koanf:"base_url" validate:"omitempty,url"`
	UserAgent       string        `koanf:"user_agent"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	RatePerSecond   float64       `koanf:"rate_per_second" validate:"gt=0"`
	Burst           int           `koanf:"burst" validate:"min=1"`
	CacheSize       int           `koanf:"cache_size" validate:"min=0"`
	CacheTTL        time.Duration `koanf:"cache_ttl" validate:"gte=0"`
	CachePrecision  int           `koanf:"cache_precision" validate:"min=1,max=12"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// ExposureConfig sets the loudness that counts as high exposure on profiles.
type ExposureConfig struct {
	HighThresholdDB float64 `koanf:"high_threshold_db"`
}

// AuthConfig configures session tokens. An empty Secret makes main generate
// a random one, which invalidates sessions on restart.
type AuthConfig struct {
	Secret       string        `koanf:"secret" validate:"omitempty,min=16"`
	SessionTTL   time.Duration `koanf:"session_ttl" validate:"gt=0"`
	CookieName   string        `koanf:"cookie_name" validate:"required"`
	SecureCookie bool          `koanf:"secure_cookie"`
	BcryptCost   int           `koanf:"bcrypt_cost" validate:"min=4,max=31"`
}

// EventsConfig configures achievement event publishing to RabbitMQ.
// A dropped broker connection is redialled on the next publish, at most once
// per ReconnectDelay.
type EventsConfig struct {
	Enabled        bool          `koanf:"enabled"`
	AMQPURL        string        `koanf:"amqp_url"`
	Exchange       string        `koanf:"exchange"`
	RoutingKey     string        `koanf:"routing_key"`
	DialTimeout    time.Duration `koanf:"dial_timeout" validate:"gt=0"`
	ReconnectDelay time.Duration `koanf:"reconnect_delay" validate:"gte=0"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path" validate:"startswith=/"`
}

// NewDefaultConfig returns a Config populated with sensible defaults.
//
// Go Learning Note — Constructor Functions:
// Go has no constructors. By convention, New<Type>() functions serve the same
// purpose. They return a pointer (*Config) so the caller gets a reference to
// shared, mutable state.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Mode:            "release",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Driver:           DriverMemory,
			OperationTimeout: 5 * time.Second,
			Mongo: MongoConfig{
				Host:           "localhost",
				Port:           27017,
				Database:       "global",
				ConnectTimeout: 10 * time.Second,
			},
			SQLite: SQLiteConfig{
				Path:        "noisemap.db",
				BusyTimeout: 5 * time.Second,
			},
		},
		Geo: GeoConfig{
			GeohashPrecision: 7,
		},
		Query: QueryConfig{
			Strategy:     StrategyNative,
			MaxRadiusKm:  10,
			MaxGridCells: 50000,
		},
		Achievements: AchievementsConfig{
			MeasurementsThreshold: 5,
			CitiesThreshold:       3,
			CountriesThreshold:    2,
		},
		Geocoder: GeocoderConfig{
			Provider:        GeocoderNone,
			BaseURL:         "https://nominatim.openstreetmap.org",
			UserAgent:       "noisemap/1.0",
			Timeout:         5 * time.Second,
			RatePerSecond:   1,
			Burst:           1,
			CacheSize:       10000,
			CacheTTL:        24 * time.Hour,
			CachePrecision:  5,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Exposure: ExposureConfig{
			HighThresholdDB: 85,
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
			CookieName: "noisemap_session",
			BcryptCost: 10,
		},
		Events: EventsConfig{
			Exchange:       "noisemap",
			RoutingKey:     "achievement.awarded",
			DialTimeout:    5 * time.Second,
			ReconnectDelay: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
