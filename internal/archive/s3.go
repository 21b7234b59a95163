// Package archive stores submitted report documents in S3-compatible object
// storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/plume/internal/emissions"
)

var tracer = otel.Tracer("github.com/linnemanlabs/plume/internal/archive")

// keyPrefix is the top-level folder for report objects.
const keyPrefix = "reports"

// Config holds S3 connection settings.
type Config struct {
	Bucket string
	Region string

	// Endpoint is an optional custom endpoint (MinIO, LocalStack).
	Endpoint string

	// UsePathStyle enables path-style addressing, required for MinIO.
	UsePathStyle bool

	// Static credentials. When empty the default AWS chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// S3 implements emissions.Archiver.
type S3 struct {
	client *s3.Client
	bucket string
}

// New loads AWS configuration and returns an archiver for cfg.Bucket.
func New(ctx context.Context, cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, xerrors.New("archive: bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3{client: client, bucket: cfg.Bucket}, nil
}

// Archive uploads r as JSON and returns its s3:// location.
func (a *S3) Archive(ctx context.Context, r *emissions.Report) (string, error) {
	key := objectKey(r.Event.ID)

	ctx, span := tracer.Start(ctx, "archive.S3.Archive", trace.WithAttributes(
		attribute.String("aws.s3.bucket", a.bucket),
		attribute.String("aws.s3.key", key),
	))
	defer span.End()

	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("archive: marshal report: %w", err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("archive: put %s: %w", key, err)
	}

	span.SetAttributes(attribute.Int("aws.s3.object_size", len(body)))
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}

// objectKey is reports/<event id>/<ulid>.json, so repeated archives of one
// event sort by time.
func objectKey(eventID string) string {
	return path.Join(keyPrefix, url.PathEscape(eventID), ulid.Make().String()+".json")
}
