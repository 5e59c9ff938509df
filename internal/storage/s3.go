package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"media-gateway/internal/config"
	"media-gateway/internal/models"
)

// S3 stores objects in a bucket.
type S3 struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewS3 loads AWS config and builds the client. S3Endpoint supports MinIO/LocalStack.
func NewS3(ctx context.Context, cfg config.Config) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
	})
	public := ""
	if cfg.StoragePublicURL != "" && !strings.Contains(cfg.StoragePublicURL, "localhost") {
		public = strings.TrimSuffix(cfg.StoragePublicURL, "/")
	}
	return &S3{client: client, bucket: cfg.S3Bucket, publicURL: public}, nil
}

func (s *S3) Upload(ctx context.Context, data []byte, meta Meta) (Object, error) {
	key := ObjectKey(meta, time.Now())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(meta.MimeType),
	})
	if err != nil {
		return Object{}, fmt.Errorf("%w: put object: %v", models.ErrStorage, err)
	}
	url := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	if s.publicURL != "" {
		url = s.publicURL + "/" + key
	}
	return Object{Name: key, URL: url, Size: int64(len(data))}, nil
}

func (s *S3) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return fmt.Errorf("%w: delete object: %v", models.ErrStorage, err)
	}
	return nil
}
