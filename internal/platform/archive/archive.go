// Package archive copies raw webhook bodies to S3-compatible object storage
// for long-term audit outside the database.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/dunning/pkg/config"
	"github.com/fatflowers/dunning/pkg/types"
)

type Archiver interface {
	Archive(ctx context.Context, provider types.PaymentProvider, eventID string, receivedAt time.Time, body []byte) error
}

// Nop discards bodies; used when archive.bucket is empty.
type Nop struct{}

func (Nop) Archive(context.Context, types.PaymentProvider, string, time.Time, []byte) error {
	return nil
}

type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client putter
	bucket string
	prefix string
}

func NewS3Archiver(client putter, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key lays objects out as <prefix>/<provider>/<yyyy>/<mm>/<dd>/<event id>.json.
func (a *S3Archiver) Key(provider types.PaymentProvider, eventID string, receivedAt time.Time) string {
	safeID := strings.NewReplacer("/", "_", ":", "_").Replace(eventID)
	return path.Join(a.prefix, string(provider), receivedAt.UTC().Format("2006/01/02"), safeID+".json")
}

func (a *S3Archiver) Archive(ctx context.Context, provider types.PaymentProvider, eventID string, receivedAt time.Time, body []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(a.Key(provider, eventID, receivedAt)),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("archive %s/%s: %w", provider, eventID, err)
	}
	return nil
}

func newS3Client(ctx context.Context, cfg config.ArchiveConfig) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	}), nil
}

// New returns Nop unless archive.bucket is set.
func New(cfg *config.Config, l *zap.SugaredLogger) (Archiver, error) {
	if cfg.Archive.Bucket == "" {
		return Nop{}, nil
	}
	client, err := newS3Client(context.Background(), cfg.Archive)
	if err != nil {
		return nil, err
	}
	l.Infow("webhook archive enabled", "bucket", cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
	return NewS3Archiver(client, cfg.Archive.Bucket, cfg.Archive.Prefix), nil
}

var Module = fx.Options(
	fx.Provide(New),
)
