package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/diagnosis-chatbot/internal/config"
	"github.com/suPer8Hu/diagnosis-chatbot/internal/metrics"
)

// ErrDisabled is returned by every operation when no bucket or credentials
// are configured.
var ErrDisabled = errors.New("object storage is not configured; set S3_BUCKET and credentials to enable attachments")

// S3Store keeps chat attachments in one private, KMS-encrypted bucket.
type S3Store struct {
	bucket    string
	kmsKeyARN string
	client    *s3.Client
	presign   *s3.PresignClient
	log       zerolog.Logger
	disabled  bool
}

func NewS3Store(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*S3Store, error) {
	logger := log.With().Str("component", "s3-store").Logger()
	store := &S3Store{
		bucket:    strings.TrimSpace(cfg.S3Bucket),
		kmsKeyARN: strings.TrimSpace(cfg.S3KMSKeyARN),
		log:       logger,
	}

	if store.bucket == "" || cfg.S3AccessKeyID == "" || cfg.S3SecretKey == "" {
		logger.Warn().Msg("S3_BUCKET or credentials are not set; image attachments are disabled")
		store.disabled = true
		return store, nil
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.S3Endpoint != "" {
			return aws.Endpoint{
				URL:           cfg.S3Endpoint,
				PartitionID:   "aws",
				SigningRegion: cfg.S3Region,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	store.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	store.presign = s3.NewPresignClient(store.client)
	return store, nil
}

func (s *S3Store) Enabled() bool { return !s.disabled }

// Put uploads body under key as a private object encrypted with the
// configured KMS key.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (err error) {
	if s.disabled {
		return ErrDisabled
	}
	start := time.Now()
	defer func() { metrics.RecordS3Operation("put", err, time.Since(start).Seconds()) }()

	input := &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 body,
		ACL:                  types.ObjectCannedACLPrivate,
		ServerSideEncryption: types.ServerSideEncryptionAwsKms,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if s.kmsKeyARN != "" {
		input.SSEKMSKeyId = aws.String(s.kmsKeyARN)
	}
	if _, err = s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %q: %w", key, err)
	}
	s.log.Debug().Str("key", key).Int64("size", size).Msg("object uploaded")
	return nil
}

// Delete removes key. Removing a missing object succeeds.
func (s *S3Store) Delete(ctx context.Context, key string) (err error) {
	if s.disabled {
		return ErrDisabled
	}
	start := time.Now()
	defer func() { metrics.RecordS3Operation("delete", err, time.Since(start).Seconds()) }()

	if _, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete object %q: %w", key, err)
	}
	return nil
}

// Sign returns a time-limited GET URL for key. No request is made.
func (s *S3Store) Sign(ctx context.Context, key string, ttl time.Duration) (url string, err error) {
	if s.disabled {
		return "", ErrDisabled
	}
	start := time.Now()
	defer func() { metrics.RecordS3Operation("presign", err, time.Since(start).Seconds()) }()

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, err)
	}
	return req.URL, nil
}

// Health performs a HeadBucket request. A disabled store is healthy.
func (s *S3Store) Health(ctx context.Context) error {
	if s.disabled {
		return nil
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// DetectContentType sniffs the media type of r and rewinds it.
func DetectContentType(r io.ReadSeeker) (string, error) {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("detect content type: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind upload: %w", err)
	}
	return mt.String(), nil
}
