package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/OFFIS-RIT/castgraph/pkg/loader"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const maxObjectBytes = 64 << 20

// ObjectGetter is the part of the S3 API the fetcher needs. *s3.Client
// satisfies it.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher loads plain-text documents from S3 or an S3-compatible store.
// Document ids have the form "s3://bucket/key". With a default bucket
// configured, "s3://key" addresses a key in that bucket.
type S3Fetcher struct {
	bucket string
	client ObjectGetter
	cache  *loader.Cache
}

// NewS3FetcherWithClient creates a fetcher on an existing client. This is
// useful to reuse a preconfigured client (e.g. storage.NewS3Client).
func NewS3FetcherWithClient(bucket string, client ObjectGetter) *S3Fetcher {
	return &S3Fetcher{
		bucket: bucket,
		client: client,
		cache:  loader.NewCache(),
	}
}

// NewS3FetcherParams defines the configuration parameters for creating a
// new S3Fetcher.
//
// Bucket is the default bucket. Endpoint allows overriding the S3 endpoint
// for S3-compatible storage like MinIO.
type NewS3FetcherParams struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Fetcher creates a new S3Fetcher with static credentials.
//
// Example:
//
//	fetcher, err := s3.NewS3Fetcher(ctx, s3.NewS3FetcherParams{
//		Bucket:    "books",
//		Endpoint:  "http://localhost:9000",
//		Region:    "us-east-1",
//		AccessKey: os.Getenv("AWS_ACCESS_KEY"),
//		SecretKey: os.Getenv("AWS_SECRET_KEY"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	text, err := fetcher.Fetch(ctx, "s3://books/pride-and-prejudice.txt")
func NewS3Fetcher(ctx context.Context, params NewS3FetcherParams) (*S3Fetcher, error) {
	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(params.Region),
		config.WithBaseEndpoint(params.Endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return NewS3FetcherWithClient(params.Bucket, client), nil
}

// Location splits a document id into bucket and key.
func (f *S3Fetcher) Location(documentID string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(documentID, "s3://")
	if !ok {
		return "", "", loader.ErrUnsupportedSource
	}
	bucket, key, found := strings.Cut(rest, "/")
	if !found || key == "" {
		if f.bucket == "" {
			return "", "", fmt.Errorf("no bucket in %q and no default bucket configured", documentID)
		}
		return f.bucket, strings.TrimSuffix(rest, "/"), nil
	}
	return bucket, key, nil
}

// Fetch implements loader.Fetcher.
func (f *S3Fetcher) Fetch(ctx context.Context, documentID string) (string, error) {
	bucket, key, err := f.Location(documentID)
	if err != nil {
		return "", &loader.FetchError{DocumentID: documentID, Err: err}
	}

	return f.cache.Load(ctx, loader.CacheKey("s3", bucket+"/"+key), func(ctx context.Context) (string, error) {
		out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var noSuchKey *types.NoSuchKey
			if errors.As(err, &noSuchKey) {
				return "", &loader.FetchError{DocumentID: documentID, StatusCode: 404, Err: loader.ErrNotFound}
			}
			return "", &loader.FetchError{DocumentID: documentID, Err: fmt.Errorf("failed to get object: %w", err)}
		}
		defer out.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(out.Body, maxObjectBytes))
		if err != nil {
			return "", &loader.FetchError{DocumentID: documentID, Err: fmt.Errorf("failed to read object: %w", err)}
		}
		return loader.NormalizeText(string(raw)), nil
	})
}
