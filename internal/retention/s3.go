package retention

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sdko-org/query-gateway/internal/config"
)

// Archiver receives purged access logs before they are deleted.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte) error
}

// S3Archiver writes archive batches to an S3 bucket.
type S3Archiver struct {
	uploader *s3manager.Uploader
	bucket   string
}

func NewS3Archiver(cfg *config.Config) *S3Archiver {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.S3Region),
		Credentials:      credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}

	if cfg.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.S3Endpoint)
	}

	sess := session.Must(session.NewSession(awsConfig))

	return &S3Archiver{
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.S3Bucket,
	}
}

func (a *S3Archiver) Put(ctx context.Context, key string, body []byte) error {
	_, err := a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
