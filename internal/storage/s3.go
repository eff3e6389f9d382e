package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"audibridge/internal/config"
	"audibridge/internal/logging"
	"audibridge/internal/services"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3 stores objects in an S3-compatible service.
type S3 struct {
	client s3API
	logger *slog.Logger
}

// NewS3 builds an S3 client from the [storage.s3] section. Static credentials
// are used when configured; otherwise the default AWS credential chain applies.
func NewS3(ctx context.Context, cfg config.S3, logger *slog.Logger) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrStorageFailed, "storage", "init", "load aws config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3WithClient(client, logger), nil
}

func newS3WithClient(client s3API, logger *slog.Logger) *S3 {
	return &S3{client: client, logger: logging.NewComponentLogger(logger, "storage.s3")}
}

// Put uploads body with a single PutObject call; S3 exposes the object only
// once the request completes.
func (s *S3) Put(ctx context.Context, bucket, key string, body io.ReadSeeker, size int64) error {
	if err := validateLocation(bucket, key); err != nil {
		return err
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return services.Wrap(services.ErrStorageFailed, "storage", "put", "rewind source", err)
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return services.Wrap(services.ErrStorageFailed, "storage", "put", bucket+"/"+key, err)
	}
	s.logger.Debug("object uploaded",
		logging.String("bucket", bucket),
		logging.String("key", key),
		logging.Int64("bytes", size),
	)
	return nil
}

// Promote copies the staged object to its final key and removes the staged
// copy. A single CopyObject call is limited to 5 GiB.
func (s *S3) Promote(ctx context.Context, bucket, from, to string) error {
	if err := validateLocation(bucket, from); err != nil {
		return err
	}
	if err := validateLocation(bucket, to); err != nil {
		return err
	}
	source := (&url.URL{Path: bucket + "/" + from}).EscapedPath()
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(bucket),
		Key:        aws.String(to),
		CopySource: aws.String(source),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return services.Wrap(services.ErrStorageFailed, "storage", "promote", bucket+"/"+from, err)
	}
	if err := s.Delete(ctx, bucket, from); err != nil {
		s.logger.Warn("staged object left behind",
			logging.String("bucket", bucket),
			logging.String("key", from),
			logging.Error(err),
		)
	}
	return nil
}

// Delete removes an object. S3 treats deletes of missing keys as success.
func (s *S3) Delete(ctx context.Context, bucket, key string) error {
	if err := validateLocation(bucket, key); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil
		}
		return services.Wrap(services.ErrStorageFailed, "storage", "delete", bucket+"/"+key, err)
	}
	return nil
}

// CheckBucket verifies the bucket exists and is reachable with the configured
// credentials.
func (s *S3) CheckBucket(ctx context.Context, bucket string) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return services.Wrap(services.ErrStorageFailed, "storage", "head bucket", bucket, err)
	}
	return nil
}
