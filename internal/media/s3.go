package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// S3Config describes the bucket images are written to.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, for S3-compatible stores such as MinIO
	AccessKey string
	SecretKey string
	PublicURL string // base URL objects are served from
}

type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes images to an S3 bucket.
type S3Uploader struct {
	client    putter
	bucket    string
	publicURL string
	now       func() time.Time
	log       *zap.Logger
}

// NewS3Uploader builds an S3 client from cfg. Static credentials are used
// when both keys are set; otherwise the default AWS credential chain applies.
func NewS3Uploader(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("media: bucket is required")
	}
	if cfg.PublicURL == "" {
		return nil, errors.New("media: public url is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("media: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Uploader(client, cfg.Bucket, cfg.PublicURL, logger), nil
}

func newS3Uploader(client putter, bucket, publicURL string, logger *zap.Logger) *S3Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Uploader{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
		log:       logger,
	}
}

// Upload decodes dataURI and stores it under images/YYYY/MM/DD/<uuid>.<ext>.
func (u *S3Uploader) Upload(ctx context.Context, dataURI string) (string, error) {
	img, err := ParseDataURI(dataURI)
	if err != nil {
		return "", err
	}

	now := u.now().UTC()
	key := fmt.Sprintf("images/%04d/%02d/%02d/%s.%s",
		now.Year(), now.Month(), now.Day(), uuid.NewString(), img.Ext)

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(img.Data),
		ContentType:   aws.String(img.ContentType),
		ContentLength: aws.Int64(int64(len(img.Data))),
	})
	if err != nil {
		u.log.Error("[media] put object failed", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("media: put object: %w", err)
	}

	u.log.Debug("[media] stored image", zap.String("key", key), zap.Int("bytes", len(img.Data)))
	return u.publicURL + "/" + key, nil
}
