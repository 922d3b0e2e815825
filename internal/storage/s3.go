// Package storage uploads generated archives to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const archiveContentType = "application/zip"

// Config holds object storage settings. An empty Bucket disables uploads.
type Config struct {
	Bucket          string `json:"bucket" yaml:"bucket"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	UsePathStyle    bool   `json:"use_path_style" yaml:"use_path_style"`
}

// Enabled reports whether uploads are configured.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// objectPutter is the subset of the S3 API the uploader needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes archives to a bucket
type Uploader struct {
	client objectPutter
	bucket string
	prefix string
	logger *zap.Logger
}

// NewUploader builds an S3 client from cfg. Static credentials are used when
// an access key is set; otherwise the default AWS credential chain applies.
func NewUploader(ctx context.Context, cfg Config, logger *zap.Logger) (*Uploader, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("storage bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Custom endpoints and path-style addressing cover MinIO and other S3-compatible stores
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newUploader(client, cfg, logger), nil
}

func newUploader(client objectPutter, cfg Config, logger *zap.Logger) *Uploader {
	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}
}

// Key returns the object key for a name under the configured prefix.
func (u *Uploader) Key(name string) string {
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

// Upload stores data under key (joined with the configured prefix) and
// returns the object's s3:// location.
func (u *Uploader) Upload(ctx context.Context, key string, data []byte) (string, error) {
	objectKey := u.Key(key)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(archiveContentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", objectKey, err)
	}

	location := fmt.Sprintf("s3://%s/%s", u.bucket, objectKey)
	u.logger.Info("uploaded archive", zap.String("location", location), zap.Int("bytes", len(data)))
	return location, nil
}

// ArchiveKey is the object name used for a run's archive.
func ArchiveKey(runID string) string {
	return runID + ".zip"
}
