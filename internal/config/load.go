package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable the service reads, for
// example NOISEMAP_STORAGE_DRIVER=sqlite or NOISEMAP_QUERY_STRATEGY=grid.
const EnvPrefix = "NOISEMAP_"

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/noisemap/config.yaml",
}

// sections lists every config path that can prefix an environment key.
// Longer paths come first so NOISEMAP_STORAGE_MONGO_URI maps to
// storage.mongo.uri rather than storage.mongo_uri.
var sections = []string{
	"storage_mongo",
	"storage_sqlite",
	"server",
	"logging",
	"storage",
	"geo",
	"query",
	"achievements",
	"geocoder",
	"exposure",
	"auth",
	"events",
	"metrics",
}

// legacyEnv maps the variable names used by earlier deployments.
var legacyEnv = map[string]string{
	"MONGO_USERNAME": "storage.mongo.username",
	"MONGO_PASSWORD": "storage.mongo.password",
	"MONGO_HOST":     "storage.mongo.host",
	"MONGO_PORT":     "storage.mongo.port",
	"MONGO_DB":       "storage.mongo.database",
	"SECRET_KEY":     "auth.secret",
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// Load builds the configuration from, in increasing priority: the defaults of
// NewDefaultConfig, a YAML file, a .env file, and the process environment.
// The merged result is validated before it is returned.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(NewDefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyToPath), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envKeyToPath turns an environment variable name into a koanf path. Names
// that are neither prefixed nor legacy return "" and are skipped.
func envKeyToPath(key string) string {
	if path, ok := legacyEnv[key]; ok {
		return path
	}
	if !strings.HasPrefix(key, EnvPrefix) {
		return ""
	}
	rest := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	for _, section := range sections {
		if strings.HasPrefix(rest, section+"_") {
			field := strings.TrimPrefix(rest, section+"_")
			return strings.ReplaceAll(section, "_", ".") + "." + field
		}
	}
	return ""
}

func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks field constraints and the rules that span several fields.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			sort.Strings(msgs)
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Storage.Driver == DriverMongo && c.Storage.Mongo.URI == "" && c.Storage.Mongo.Host == "" {
		return errors.New("storage.mongo: uri or host is required")
	}
	if c.Geocoder.Provider == GeocoderNominatim {
		if c.Geocoder.BaseURL == "" {
			return errors.New("geocoder.base_url is required for nominatim")
		}
		if c.Geocoder.UserAgent == "" {
			return errors.New("geocoder.user_agent is required for nominatim")
		}
	}
	if c.Events.Enabled && (c.Events.AMQPURL == "" || c.Events.Exchange == "") {
		return errors.New("events: amqp_url and exchange are required when enabled")
	}
	for _, o := range c.Server.CORSOrigins {
		if o != "*" && !strings.HasPrefix(o, "http://") && !strings.HasPrefix(o, "https://") {
			return fmt.Errorf("server.cors_origins: %q must be * or an http(s) origin", o)
		}
	}
	if c.Geocoder.CachePrecision > c.Geo.GeohashPrecision {
		return errors.New("geocoder.cache_precision must not exceed geo.geohash_precision")
	}
	return nil
}
