package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/hk-cultural-events/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// LCSD open data endpoints
const (
	DefaultVenuesURL     = "https://www.lcsd.gov.hk/datagovhk/event/venues.xml"
	DefaultEventsURL     = "https://www.lcsd.gov.hk/datagovhk/event/events.xml"
	DefaultEventDatesURL = "https://www.lcsd.gov.hk/datagovhk/event/eventDates.xml"
)

func defaultConfig() *Config {
	return &Config{
		Feeds: FeedsConfig{
			VenuesURL:     DefaultVenuesURL,
			EventsURL:     DefaultEventsURL,
			EventDatesURL: DefaultEventDatesURL,
			Timeout:       20 * time.Second,
		},
		Import: ImportConfig{
			SampleSize:   10,
			Seed:         0,
			LockTTL:      5 * time.Minute,
			ArchiveFeeds: false,
			Schedule:     "0 */6 * * *",
		},
		Store: StoreConfig{
			Backend:       BackendDynamoDB,
			CatalogTable:  "hk-cultural-events-catalog",
			MongoDatabase: "cultural_events",
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
			CookieName: "session_id",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9102",
		},
	}
}

// Load builds the configuration from, in increasing priority: built-in
// defaults, a YAML file (path, CONFIG_PATH or DefaultConfigPaths), and
// environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps environment variables to koanf paths. Variables not
// listed here are ignored.
var envMappings = map[string]string{
	"venues_feed_url":      "feeds.venues_url",
	"events_feed_url":      "feeds.events_url",
	"event_dates_feed_url": "feeds.event_dates_url",
	"feed_timeout":         "feeds.timeout",

	"import_sample_size":   "import.sample_size",
	"import_seed":          "import.seed",
	"import_lock_ttl":      "import.lock_ttl",
	"archive_feeds":        "import.archive_feeds",
	"import_schedule":      "import.schedule",
	"import_function_name": "import.function_name",

	"store_backend":    "store.backend",
	"catalog_table":    "store.catalog_table",
	"mongodb_uri":      "store.mongo_uri",
	"mongodb_database": "store.mongo_database",

	"aws_region":     "aws.region",
	"aws_profile":    "aws.profile",
	"s3_bucket_name": "aws.s3_bucket",

	"session_ttl":         "auth.session_ttl",
	"session_cookie_name": "auth.cookie_name",

	"log_level":  "logging.level",
	"log_format": "logging.format",

	"metrics_addr": "metrics.addr",
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
