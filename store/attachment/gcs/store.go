// Package gcs reads attachment content from Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"github.com/rbaliyan/campusmail/store"
	"google.golang.org/api/option"
)

// Scheme is the URI scheme served by Source.
const Scheme = "gs"

const readOnlyScope = "https://www.googleapis.com/auth/devstorage.read_only"

// ObjectReader opens a GCS object for reading.
type ObjectReader interface {
	NewReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type clientReader struct {
	client *storage.Client
}

func (c clientReader) NewReader(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(key).NewReader(ctx)
}

// Source implements store.AttachmentSource for gs://bucket/key URIs.
type Source struct {
	reader  ObjectReader
	client  *storage.Client
	buckets []string
	logger  *slog.Logger
}

var _ store.AttachmentSource = (*Source)(nil)

// New creates a GCS source.
func New(ctx context.Context, opts ...Option) (*Source, error) {
	o := newOptions(opts...)

	clientOpts, err := buildClientOptions(o)
	if err != nil {
		return nil, fmt.Errorf("build client options: %w", err)
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	s := NewFromReader(clientReader{client: client}, opts...)
	s.client = client
	return s, nil
}

// NewFromReader creates a source over an existing reader.
// Credential and endpoint options are ignored.
func NewFromReader(r ObjectReader, opts ...Option) *Source {
	o := newOptions(opts...)
	return &Source{
		reader:  r,
		buckets: o.buckets,
		logger:  o.logger,
	}
}

func newOptions(opts ...Option) *options {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func buildClientOptions(o *options) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case o.credentialsJSON != nil || o.credentialsFile != "":
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes:          []string{readOnlyScope},
			CredentialsJSON: o.credentialsJSON,
			CredentialsFile: o.credentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("detect credentials: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))
	case o.apiKey != "":
		opts = append(opts, option.WithAPIKey(o.apiKey))
	}

	if o.endpoint != "" {
		opts = append(opts, option.WithEndpoint(o.endpoint))
	}
	return opts, nil
}

// Open returns a reader for the object. Missing objects map to store.ErrNotFound.
func (s *Source) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if len(s.buckets) > 0 && !slices.Contains(s.buckets, bucket) {
		return nil, fmt.Errorf("%w: bucket %q is not served", store.ErrInvalidArgument, bucket)
	}

	r, err := s.reader.NewReader(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%s: %w", uri, store.ErrNotFound)
		}
		return nil, fmt.Errorf("create gcs reader: %w", err)
	}

	s.logger.Debug("opened attachment", "bucket", bucket, "key", key)
	return r, nil
}

// Close closes the GCS client if the source created one.
func (s *Source) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// ParseURI splits a gs://bucket/key URI.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, Scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("%w: invalid gcs uri %q", store.ErrInvalidArgument, uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: gcs uri %q has no key", store.ErrInvalidArgument, uri)
	}
	return bucket, key, nil
}
