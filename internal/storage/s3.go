package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/castgraph/internal/util"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrNoBucket is returned when AWS_BUCKET is not set.
var ErrNoBucket = errors.New("AWS_BUCKET is not set")

// S3Settings are the AWS_* environment values used for the document store.
type S3Settings struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// S3SettingsFromEnv reads the AWS_* environment variables.
func S3SettingsFromEnv() S3Settings {
	return S3Settings{
		Bucket:    util.GetEnv("AWS_BUCKET"),
		Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
		Endpoint:  util.GetEnv("AWS_ENDPOINT"),
		AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
		SecretKey: util.GetEnv("AWS_SECRET_KEY"),
	}
}

// NewS3Client creates a path-style S3 client with static credentials,
// suitable for MinIO and other S3-compatible stores.
func NewS3Client(ctx context.Context, settings S3Settings) (*s3.Client, error) {
	if settings.Bucket == "" {
		return nil, ErrNoBucket
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(settings.Region),
	}
	if settings.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(settings.Endpoint))
	}
	if settings.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			settings.AccessKey,
			settings.SecretKey,
			"",
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}
