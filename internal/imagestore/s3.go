package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"atelier/internal/config"
	"atelier/internal/logging"
	"atelier/internal/services"
)

// objectAPI is the subset of the S3 client the backend uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3 stores images in an S3-compatible bucket.
type S3 struct {
	bucket string
	prefix string
	client objectAPI
	logger *slog.Logger
}

// NewS3 configures a client from the storage section. Static credentials are
// used when both keys are set; otherwise the default AWS chain applies.
func NewS3(ctx context.Context, cfg config.Storage, logger *slog.Logger) (*S3, error) {
	bucket := strings.TrimSpace(cfg.S3Bucket)
	if bucket == "" {
		return nil, services.Wrap(services.ErrConfiguration, "imagestore", "s3", "storage.s3_bucket is required", nil)
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	accessKey := strings.TrimSpace(cfg.S3AccessKeyID)
	secretKey := strings.TrimSpace(cfg.S3SecretAccessKey)
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.S3Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return newS3WithClient(bucket, cfg.S3Prefix, client, logger), nil
}

func newS3WithClient(bucket, prefix string, client objectAPI, logger *slog.Logger) *S3 {
	return &S3{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		client: client,
		logger: logging.NewComponentLogger(logger, "s3-storage"),
	}
}

func (s *S3) Backend() string { return "s3" }

func (s *S3) objectKey(key string) string {
	key = strings.TrimLeft(path.Clean("/"+strings.TrimSpace(key)), "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Save uploads data and returns the full object key.
func (s *S3) Save(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	objectKey := s.objectKey(key)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", services.Wrap(services.ErrTransient, "imagestore", "s3 put", objectKey, err)
	}
	s.logger.Debug("image uploaded", logging.String("key", objectKey), logging.Int("bytes", len(data)))
	return objectKey, nil
}

// Read downloads an object by the key Save returned.
func (s *S3) Read(ctx context.Context, objectKey string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, services.Wrap(services.ErrNotFound, "imagestore", "s3 get", objectKey, nil)
		}
		return nil, services.Wrap(services.ErrTransient, "imagestore", "s3 get", objectKey, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object: %w", err)
	}
	return data, nil
}

// Delete removes an object; S3 treats missing keys as success.
func (s *S3) Delete(ctx context.Context, objectKey string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return services.Wrap(services.ErrTransient, "imagestore", "s3 delete", objectKey, err)
	}
	return nil
}

// Health performs a HeadBucket request.
func (s *S3) Health(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}
