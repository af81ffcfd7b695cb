package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 7, cfg.Geo.GeohashPrecision)
	assert.Equal(t, StrategyNative, cfg.Query.Strategy)
	assert.Equal(t, int64(5), cfg.Achievements.MeasurementsThreshold)
	assert.Equal(t, int64(3), cfg.Achievements.CitiesThreshold)
	assert.Equal(t, int64(2), cfg.Achievements.CountriesThreshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }, "Driver"},
		{"unknown strategy", func(c *Config) { c.Query.Strategy = "rtree" }, "Strategy"},
		{"precision too high", func(c *Config) { c.Geo.GeohashPrecision = 13 }, "GeohashPrecision"},
		{"zero threshold", func(c *Config) { c.Achievements.CitiesThreshold = 0 }, "CitiesThreshold"},
		{"non-positive radius", func(c *Config) { c.Query.MaxRadiusKm = 0 }, "MaxRadiusKm"},
		{"short secret", func(c *Config) { c.Auth.Secret = "short" }, "Secret"},
		{"mongo without host", func(c *Config) {
			c.Storage.Driver = DriverMongo
			c.Storage.Mongo.Host = ""
		}, "uri or host"},
		{"events without url", func(c *Config) { c.Events.Enabled = true }, "amqp_url"},
		{"zero dial timeout", func(c *Config) { c.Events.DialTimeout = 0 }, "DialTimeout"},
		{"cache finer than buckets", func(c *Config) { c.Geocoder.CachePrecision = 8 }, "cache_precision"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMongoConnectionURI(t *testing.T) {
	m := MongoConfig{Host: "db", Port: 27017, Username: "noise", Password: "p@ss"}
	assert.Equal(t, "mongodb://noise:p%40ss@db:27017", m.ConnectionURI())

	m.URI = "mongodb://elsewhere:27018"
	assert.Equal(t, "mongodb://elsewhere:27018", m.ConnectionURI())
}

func TestEnvKeyToPath(t *testing.T) {
	tests := map[string]string{
		"NOISEMAP_STORAGE_DRIVER":                "storage.driver",
		"NOISEMAP_STORAGE_MONGO_URI":             "storage.mongo.uri",
		"NOISEMAP_STORAGE_SQLITE_PATH":           "storage.sqlite.path",
		"NOISEMAP_STORAGE_OPERATION_TIMEOUT":     "storage.operation_timeout",
		"NOISEMAP_QUERY_STRATEGY":                "query.strategy",
		"NOISEMAP_ACHIEVEMENTS_CITIES_THRESHOLD": "achievements.cities_threshold",
		"MONGO_HOST":                             "storage.mongo.host",
		"SECRET_KEY":                             "auth.secret",
		"NOISEMAP_UNKNOWN_THING":                 "",
		"PATH":                                   "",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKeyToPath(in), in)
	}
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
storage:
  driver: sqlite
  sqlite:
    path: /tmp/from-file.db
query:
  strategy: grid
achievements:
  measurements_threshold: 10
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("NOISEMAP_ACHIEVEMENTS_MEASUREMENTS_THRESHOLD", "12")
	t.Setenv("NOISEMAP_STORAGE_OPERATION_TIMEOUT", "750ms")
	t.Setenv("NOISEMAP_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MONGO_DB", "legacy")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/tmp/from-file.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, StrategyGrid, cfg.Query.Strategy)
	assert.Equal(t, int64(12), cfg.Achievements.MeasurementsThreshold, "env wins over file")
	assert.Equal(t, 750*time.Millisecond, cfg.Storage.OperationTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "legacy", cfg.Storage.Mongo.Database)
	assert.Equal(t, int64(3), cfg.Achievements.CitiesThreshold, "defaults survive")
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("NOISEMAP_QUERY_STRATEGY", "quadtree")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}
