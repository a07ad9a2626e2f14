package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Supported catalog store backends
const (
	BackendDynamoDB = "dynamodb"
	BackendMongoDB  = "mongodb"
)

// Config is the top-level configuration shared by the Lambdas and the CLI.
type Config struct {
	Feeds   FeedsConfig   `koanf:"feeds"`
	Import  ImportConfig  `koanf:"import"`
	Store   StoreConfig   `koanf:"store"`
	AWS     AWSConfig     `koanf:"aws"`
	Auth    AuthConfig    `koanf:"auth"`
	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// FeedsConfig locates the three LCSD XML feeds.
type FeedsConfig struct {
	VenuesURL     string        `koanf:"venues_url"`
	EventsURL     string        `koanf:"events_url"`
	EventDatesURL string        `koanf:"event_dates_url"`
	Timeout       time.Duration `koanf:"timeout"` // per request
}

// ImportConfig tunes the import pipeline.
type ImportConfig struct {
	SampleSize int `koanf:"sample_size"`

	// Seed makes venue sampling deterministic when non-zero. Leave at 0 in
	// production so every import rotates the sample.
	Seed uint64 `koanf:"seed"`

	LockTTL      time.Duration `koanf:"lock_ttl"`
	ArchiveFeeds bool          `koanf:"archive_feeds"`
	Schedule     string        `koanf:"schedule"` // cron expression for `feedsync watch`

	// FunctionName, when set, makes the API delegate imports to that Lambda
	// instead of running the pipeline in process.
	FunctionName string `koanf:"function_name"`
}

// StoreConfig selects and addresses the catalog store.
type StoreConfig struct {
	Backend       string `koanf:"backend"`
	CatalogTable  string `koanf:"catalog_table"`
	MongoURI      string `koanf:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database"`
}

// AWSConfig holds AWS settings not covered by the default credential chain.
type AWSConfig struct {
	Region   string `koanf:"region"`
	Profile  string `koanf:"profile"`
	S3Bucket string `koanf:"s3_bucket"`
}

// AuthConfig controls login sessions.
type AuthConfig struct {
	SessionTTL time.Duration `koanf:"session_ttl"`
	CookieName string        `koanf:"cookie_name"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsConfig configures the Prometheus endpoint of `feedsync watch`.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if err := c.validateFeeds(); err != nil {
		return err
	}
	if err := c.validateImport(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}
	return nil
}

func (c *Config) validateFeeds() error {
	for name, raw := range map[string]string{
		"feeds.venues_url":      c.Feeds.VenuesURL,
		"feeds.events_url":      c.Feeds.EventsURL,
		"feeds.event_dates_url": c.Feeds.EventDatesURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%s must be an absolute http(s) URL, got %q", name, raw)
		}
	}
	if c.Feeds.Timeout <= 0 {
		return fmt.Errorf("feeds.timeout must be positive")
	}
	return nil
}

func (c *Config) validateImport() error {
	if c.Import.SampleSize <= 0 {
		return fmt.Errorf("import.sample_size must be positive, got %d", c.Import.SampleSize)
	}
	if c.Import.LockTTL <= 0 {
		return fmt.Errorf("import.lock_ttl must be positive")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch strings.ToLower(c.Store.Backend) {
	case BackendDynamoDB:
		if c.Store.CatalogTable == "" {
			return fmt.Errorf("store.catalog_table is required for the dynamodb backend")
		}
	case BackendMongoDB:
		if c.Store.MongoURI == "" {
			return fmt.Errorf("store.mongo_uri is required for the mongodb backend")
		}
		if c.Store.MongoDatabase == "" {
			return fmt.Errorf("store.mongo_database is required for the mongodb backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	return nil
}
