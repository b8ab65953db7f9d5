package cached

import (
	"log/slog"
	"time"
)

// Defaults.
const (
	DefaultMaxSize int64 = 1 << 30
	DefaultTTL           = 24 * time.Hour
)

type options struct {
	dir     string
	maxSize int64
	ttl     time.Duration
	logger  *slog.Logger
}

// Option configures the cached source.
type Option func(*options)

// WithDir sets the parent directory for cached files.
// Default is the system temp directory.
func WithDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.dir = dir
		}
	}
}

// WithMaxSize caps the total bytes kept on disk. Content that would exceed
// the cap is served but not cached.
func WithMaxSize(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.maxSize = size
		}
	}
}

// WithTTL sets how long a cached file is served. Default is 24 hours.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
