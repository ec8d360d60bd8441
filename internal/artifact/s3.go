package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cuongbtq/invoice-service/internal/domain"
)

// S3Config holds object storage configuration
type S3Config struct {
	Bucket    string
	Region    string
	KeyPrefix string
	// Endpoint points at an S3-compatible server (MinIO, LocalStack); path-style addressing is used when set
	Endpoint string
}

// S3API is the subset of the S3 client used by S3Store
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps artifacts in a bucket. The ref is the object key.
type S3Store struct {
	client S3API
	config S3Config
	logger *slog.Logger
}

// NewS3Store loads AWS credentials from the default chain and builds a client
func NewS3Store(ctx context.Context, config S3Config, logger *slog.Logger) (*S3Store, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(config.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3StoreWithClient(client, config, logger), nil
}

// NewS3StoreWithClient wraps an existing client
func NewS3StoreWithClient(client S3API, config S3Config, logger *slog.Logger) *S3Store {
	return &S3Store{client: client, config: config, logger: logger}
}

func (s *S3Store) key(name string) string {
	if s.config.KeyPrefix == "" {
		return name
	}
	return path.Join(s.config.KeyPrefix, name)
}

// Put uploads data and returns its object key
func (s *S3Store) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	key := s.key(name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact (bucket:%s, key:%s): %w", s.config.Bucket, key, err)
	}

	s.logger.Debug("Artifact uploaded",
		slog.String("bucket", s.config.Bucket),
		slog.String("key", key),
		slog.Int("size", len(data)),
	)
	return key, nil
}

// Get downloads the object stored under ref
func (s *S3Store) Get(ctx context.Context, ref string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to get artifact (bucket:%s, key:%s): %w", s.config.Bucket, ref, err)
	}
	defer result.Body.Close()

	return io.ReadAll(result.Body)
}
