package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rbaliyan/campusmail/internal/config"
	"github.com/rbaliyan/campusmail/store"
	"github.com/rbaliyan/campusmail/store/attachment"
	"github.com/rbaliyan/campusmail/store/attachment/cached"
	"github.com/rbaliyan/campusmail/store/attachment/gcs"
	attotel "github.com/rbaliyan/campusmail/store/attachment/otel"
	"github.com/rbaliyan/campusmail/store/attachment/s3"
	"github.com/rbaliyan/campusmail/store/memory"
	"github.com/rbaliyan/campusmail/store/mongo"
	"github.com/rbaliyan/campusmail/store/postgres"
)

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, hopts))
	}
	return slog.New(slog.NewJSONHandler(w, hopts))
}

// openStore builds the configured store. The returned func releases the
// driver's connection pool; the service closes the store itself.
func openStore(cfg config.StoreConfig, logger *slog.Logger) (store.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverPostgres:
		opts := []postgres.Option{
			postgres.WithTimeout(cfg.Timeout),
			postgres.WithLogger(logger),
			postgres.WithSchemaMigration(!cfg.PostgresSkipMigrate),
		}
		if cfg.PostgresTable != "" {
			opts = append(opts, postgres.WithTable(cfg.PostgresTable))
		}
		st, db, err := postgres.Open(cfg.PostgresDSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		return st, db.Close, nil

	case config.DriverMongo:
		opts := []mongo.Option{mongo.WithTimeout(cfg.Timeout), mongo.WithLogger(logger)}
		if cfg.MongoDatabase != "" {
			opts = append(opts, mongo.WithDatabase(cfg.MongoDatabase))
		}
		if cfg.MongoCollection != "" {
			opts = append(opts, mongo.WithCollection(cfg.MongoCollection))
		}
		st, client, err := mongo.Open(cfg.MongoURI, opts...)
		if err != nil {
			return nil, nil, err
		}
		return st, func() error { return client.Disconnect(context.Background()) }, nil

	case config.DriverMemory:
		return memory.New(), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// buildAttachments routes s3:// and gs:// URIs to their sources, behind an
// optional disk cache and OpenTelemetry instrumentation. It returns a nil
// source when no backend is enabled.
func buildAttachments(ctx context.Context, cfg config.AttachmentsConfig, logger *slog.Logger) (store.AttachmentSource, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	router := attachment.NewRouter()

	if cfg.S3.Enabled {
		opts := []s3.Option{
			s3.WithBuckets(cfg.S3.Buckets...),
			s3.WithPathStyle(cfg.S3.PathStyle),
			s3.WithLogger(logger),
		}
		if cfg.S3.Region != "" {
			opts = append(opts, s3.WithRegion(cfg.S3.Region))
		}
		if cfg.S3.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(cfg.S3.Endpoint))
		}
		if cfg.S3.AccessKey != "" {
			opts = append(opts, s3.WithStaticCredentials(cfg.S3.AccessKey, cfg.S3.SecretKey))
		}
		if cfg.S3.RoleARN != "" {
			opts = append(opts, s3.WithAssumeRole(cfg.S3.RoleARN, ""))
		}
		src, err := s3.New(ctx, opts...)
		if err != nil {
			return nil, closeAll, fmt.Errorf("s3 attachments: %w", err)
		}
		router.Handle(s3.Scheme, src)
	}

	if cfg.GCS.Enabled {
		opts := []gcs.Option{gcs.WithBuckets(cfg.GCS.Buckets...), gcs.WithLogger(logger)}
		if cfg.GCS.Endpoint != "" {
			opts = append(opts, gcs.WithEndpoint(cfg.GCS.Endpoint))
		}
		if cfg.GCS.CredentialsFile != "" {
			opts = append(opts, gcs.WithCredentialsFile(cfg.GCS.CredentialsFile))
		}
		src, err := gcs.New(ctx, opts...)
		if err != nil {
			return nil, closeAll, fmt.Errorf("gcs attachments: %w", err)
		}
		closers = append(closers, src.Close)
		router.Handle(gcs.Scheme, src)
	}

	if router.Len() == 0 {
		return nil, closeAll, nil
	}

	var src store.AttachmentSource = router
	if cfg.Cache.Enabled() {
		c, err := cached.New(src,
			cached.WithDir(cfg.Cache.Dir),
			cached.WithMaxSize(cfg.Cache.MaxBytes),
			cached.WithTTL(cfg.Cache.TTL),
			cached.WithLogger(logger),
		)
		if err != nil {
			return nil, closeAll, fmt.Errorf("attachment cache: %w", err)
		}
		closers = append(closers, c.Close)
		src = c
	}

	instrumented, err := attotel.New(src, attotel.WithServiceName("campusmaild"))
	if err != nil {
		return nil, closeAll, fmt.Errorf("attachment telemetry: %w", err)
	}
	return instrumented, closeAll, nil
}
