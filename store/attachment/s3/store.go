// Package s3 reads attachment content from Amazon S3 and S3-compatible stores.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rbaliyan/campusmail/store"
)

// Scheme is the URI scheme served by Source.
const Scheme = "s3"

// ObjectGetter is the subset of the S3 client used by Source.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source implements store.AttachmentSource for s3://bucket/key URIs.
type Source struct {
	client  ObjectGetter
	buckets []string
	logger  *slog.Logger
}

var _ store.AttachmentSource = (*Source)(nil)

// New creates an S3 source from the AWS configuration chain.
// The context is used for credential loading.
func New(ctx context.Context, opts ...Option) (*Source, error) {
	o := newOptions(opts...)

	awsCfg, err := buildAWSConfig(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("build aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
			so.UsePathStyle = o.usePathStyle
		}
	})

	return NewFromClient(client, opts...), nil
}

// NewFromClient creates a source using an existing client.
// Credential and endpoint options are ignored.
func NewFromClient(client ObjectGetter, opts ...Option) *Source {
	o := newOptions(opts...)
	return &Source{
		client:  client,
		buckets: o.buckets,
		logger:  o.logger,
	}
}

func newOptions(opts ...Option) *options {
	o := &options{
		region: "us-east-1",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func buildAWSConfig(ctx context.Context, o *options) (aws.Config, error) {
	optFns := []func(*config.LoadOptions) error{config.WithRegion(o.region)}

	switch {
	case o.accessKey != "" && o.secretKey != "":
		creds := credentials.NewStaticCredentialsProvider(o.accessKey, o.secretKey, o.sessionToken)
		optFns = append(optFns, config.WithCredentialsProvider(creds))

	case o.roleARN != "":
		baseCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(o.region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("load base config for role: %w", err)
		}
		role := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(baseCfg), o.roleARN, func(ro *stscreds.AssumeRoleOptions) {
			ro.RoleSessionName = o.roleSessionName
			if o.externalID != "" {
				ro.ExternalID = aws.String(o.externalID)
			}
		})
		optFns = append(optFns, config.WithCredentialsProvider(aws.NewCredentialsCache(role)))
	}

	return config.LoadDefaultConfig(ctx, optFns...)
}

// Open returns the object's body. Missing objects map to store.ErrNotFound.
func (s *Source) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if len(s.buckets) > 0 && !slices.Contains(s.buckets, bucket) {
		return nil, fmt.Errorf("%w: bucket %q is not served", store.ErrInvalidArgument, bucket)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		var noBucket *types.NoSuchBucket
		if errors.As(err, &noKey) || errors.As(err, &noBucket) {
			return nil, fmt.Errorf("%s: %w", uri, store.ErrNotFound)
		}
		return nil, fmt.Errorf("get object from s3: %w", err)
	}

	s.logger.Debug("opened attachment", "bucket", bucket, "key", key)
	return out.Body, nil
}

// ParseURI splits an s3://bucket/key URI.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, Scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("%w: invalid s3 uri %q", store.ErrInvalidArgument, uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: s3 uri %q has no key", store.ErrInvalidArgument, uri)
	}
	return bucket, key, nil
}
