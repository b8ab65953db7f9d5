package gcs

import (
	"log/slog"
)

// options holds GCS source configuration.
type options struct {
	// buckets restricts which buckets URIs may name. Empty allows any.
	buckets []string

	// Custom endpoint (for emulators, testing)
	endpoint string

	// Credentials options (mutually exclusive)
	credentialsJSON []byte
	credentialsFile string
	apiKey          string

	logger *slog.Logger
}

// Option configures the GCS source.
type Option func(*options)

// WithBuckets restricts the source to URIs in the given buckets.
func WithBuckets(buckets ...string) Option {
	return func(o *options) {
		o.buckets = append(o.buckets, buckets...)
	}
}

// WithEndpoint sets a custom GCS endpoint (for emulators, testing).
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithCredentialsJSON sets service account credentials from JSON bytes.
func WithCredentialsJSON(json []byte) Option {
	return func(o *options) {
		o.credentialsJSON = json
	}
}

// WithCredentialsFile sets the path to a service account JSON key file.
func WithCredentialsFile(path string) Option {
	return func(o *options) {
		o.credentialsFile = path
	}
}

// WithAPIKey sets an API key. Without any credential option,
// Application Default Credentials are used.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
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
