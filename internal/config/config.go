// Package config loads campusmaild configuration.
//
// Values come from three layers, later ones winning: built-in defaults, a
// YAML file, and CAMPUSMAIL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CAMPUSMAIL_"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" envPrefix:"SERVER_"`
	Log         LogConfig         `yaml:"log" envPrefix:"LOG_"`
	Store       StoreConfig       `yaml:"store" envPrefix:"STORE_"`
	Events      EventsConfig      `yaml:"events" envPrefix:"EVENTS_"`
	Attachments AttachmentsConfig `yaml:"attachments" envPrefix:"ATTACHMENTS_"`
	Limits      LimitsConfig      `yaml:"limits" envPrefix:"LIMITS_"`

	// Directory lists the users the daemon can act as. The X-User-ID header
	// of every request must name one of them.
	Directory []User `yaml:"directory" env:"-"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// StoreConfig selects and configures the message store.
type StoreConfig struct {
	Driver  string        `yaml:"driver" env:"DRIVER"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	PostgresDSN         string `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	PostgresTable       string `yaml:"postgres_table" env:"POSTGRES_TABLE"`
	PostgresSkipMigrate bool   `yaml:"postgres_skip_migrate" env:"POSTGRES_SKIP_MIGRATE"`

	MongoURI        string `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase   string `yaml:"mongo_database" env:"MONGO_DATABASE"`
	MongoCollection string `yaml:"mongo_collection" env:"MONGO_COLLECTION"`

	// ConnectAttempts is the number of connection attempts at startup.
	ConnectAttempts int `yaml:"connect_attempts" env:"CONNECT_ATTEMPTS"`
}

// EventsConfig enables the Redis event transport when RedisAddr is set.
type EventsConfig struct {
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
	Fatal         bool   `yaml:"fatal" env:"FATAL"`
}

// AttachmentsConfig configures read-only attachment sources.
type AttachmentsConfig struct {
	S3    S3Config    `yaml:"s3" envPrefix:"S3_"`
	GCS   GCSConfig   `yaml:"gcs" envPrefix:"GCS_"`
	Cache CacheConfig `yaml:"cache" envPrefix:"CACHE_"`
}

// S3Config serves s3:// attachment URIs.
type S3Config struct {
	Enabled   bool     `yaml:"enabled" env:"ENABLED"`
	Region    string   `yaml:"region" env:"REGION"`
	Endpoint  string   `yaml:"endpoint" env:"ENDPOINT"`
	PathStyle bool     `yaml:"path_style" env:"PATH_STYLE"`
	Buckets   []string `yaml:"buckets" env:"BUCKETS" envSeparator:","`
	AccessKey string   `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string   `yaml:"secret_key" env:"SECRET_KEY"`
	RoleARN   string   `yaml:"role_arn" env:"ROLE_ARN"`
}

// GCSConfig serves gs:// attachment URIs.
type GCSConfig struct {
	Enabled         bool     `yaml:"enabled" env:"ENABLED"`
	Endpoint        string   `yaml:"endpoint" env:"ENDPOINT"`
	CredentialsFile string   `yaml:"credentials_file" env:"CREDENTIALS_FILE"`
	Buckets         []string `yaml:"buckets" env:"BUCKETS" envSeparator:","`
}

// CacheConfig keeps local copies of attachment content.
type CacheConfig struct {
	Dir      string        `yaml:"dir" env:"DIR"`
	MaxBytes int64         `yaml:"max_bytes" env:"MAX_BYTES"`
	TTL      time.Duration `yaml:"ttl" env:"TTL"`
}

// Enabled reports whether a cache directory is configured.
func (c CacheConfig) Enabled() bool {
	return c.Dir != ""
}

// LimitsConfig overrides the service's message and paging limits.
// Zero keeps the service default.
type LimitsConfig struct {
	MaxSubjectLength   int `yaml:"max_subject_length" env:"MAX_SUBJECT_LENGTH"`
	MaxContentSize     int `yaml:"max_content_size" env:"MAX_CONTENT_SIZE"`
	MaxAttachmentCount int `yaml:"max_attachment_count" env:"MAX_ATTACHMENT_COUNT"`
	DefaultPageLimit   int `yaml:"default_page_limit" env:"DEFAULT_PAGE_LIMIT"`
	MaxPageLimit       int `yaml:"max_page_limit" env:"MAX_PAGE_LIMIT"`
	MaxConcurrentSends int `yaml:"max_concurrent_sends" env:"MAX_CONCURRENT_SENDS"`
}

// User is one directory entry.
type User struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

// Default returns the built-in configuration: an in-memory store on :8080.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Driver:          DriverMemory,
			Timeout:         10 * time.Second,
			ConnectAttempts: 5,
		},
	}
}

// Load reads the YAML file at path, which may be empty, and overlays the
// process environment.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		data = b
	}
	return Parse(data, nil)
}

// Parse builds a validated Config from YAML bytes and an environment.
// A nil environ means the process environment.
func Parse(data []byte, environ map[string]string) (*Config, error) {
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: validation failed")

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string
	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of json, text", c.Log.Format))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, "store.postgres_dsn is required for the postgres driver")
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			errs = append(errs, "store.mongo_uri is required for the mongo driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, postgres, mongo", c.Store.Driver))
	}

	if c.Attachments.S3.AccessKey != "" && c.Attachments.S3.SecretKey == "" {
		errs = append(errs, "attachments.s3.secret_key is required with access_key")
	}
	if c.Attachments.Cache.MaxBytes < 0 {
		errs = append(errs, "attachments.cache.max_bytes must not be negative")
	}

	limits := []struct {
		name string
		v    int
	}{
		{"max_subject_length", c.Limits.MaxSubjectLength},
		{"max_content_size", c.Limits.MaxContentSize},
		{"max_attachment_count", c.Limits.MaxAttachmentCount},
		{"default_page_limit", c.Limits.DefaultPageLimit},
		{"max_page_limit", c.Limits.MaxPageLimit},
		{"max_concurrent_sends", c.Limits.MaxConcurrentSends},
	}
	for _, l := range limits {
		if l.v < 0 {
			errs = append(errs, fmt.Sprintf("limits.%s must not be negative", l.name))
		}
	}

	if len(c.Directory) == 0 {
		errs = append(errs, "directory must list at least one user")
	}
	seen := make(map[string]bool, len(c.Directory))
	for i, u := range c.Directory {
		if u.ID == "" || u.Name == "" || u.Role == "" {
			errs = append(errs, fmt.Sprintf("directory[%d] needs id, name and role", i))
		}
		if seen[u.ID] {
			errs = append(errs, fmt.Sprintf("directory[%d]: duplicate id %q", i, u.ID))
		}
		seen[u.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}
