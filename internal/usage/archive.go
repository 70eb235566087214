package usage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"

	"ai_gateway/internal/clock"
	"ai_gateway/internal/config"
	"ai_gateway/internal/logging"
	"ai_gateway/internal/models"
)

// ObjectPutter is the part of the S3 client the archiver uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes persisted usage batches to S3 as JSON Lines objects.
type S3Archiver struct {
	client  ObjectPutter
	bucket  string
	prefix  string
	podName string
	clock   clock.Clock
	logger  *logging.Logger
}

// NewS3Archiver builds an S3 client from cfg. A custom endpoint switches to
// path-style addressing for S3-compatible stores such as MinIO.
func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3ArchiverWithClient(client, cfg, clock.Real()), nil
}

// NewS3ArchiverWithClient wires an existing client.
func NewS3ArchiverWithClient(client ObjectPutter, cfg config.ArchiveConfig, clk clock.Clock) *S3Archiver {
	return &S3Archiver{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		podName: cfg.PodName,
		clock:   clk,
		logger:  logging.NewLogger("usage-archive"),
	}
}

// Archive uploads records and returns the object key,
// e.g. usage/2026/10/19/gateway-0-20261019-143022-123456789.jsonl.
func (a *S3Archiver) Archive(ctx context.Context, records []models.UsageRecord) (string, error) {
	if len(records) == 0 {
		return "", nil
	}

	now := a.clock.Now().UTC()
	key := fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%09d.jsonl",
		a.prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		a.podName,
		now.Format("20060102-150405"),
		now.Nanosecond(),
	)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return "", fmt.Errorf("failed to encode usage record %s: %w", record.ID, err)
		}
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	a.logger.Info("Archived usage batch", "key", key, "count", len(records), "bytes", buf.Len())
	return key, nil
}
