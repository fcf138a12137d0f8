package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/visageapp/visage/internal/config"
)

// Uploader stores chat images in an S3-compatible bucket with public
// read and hands back the resolvable URL.
type Uploader struct {
	client     *s3.Client
	bucket     string
	publicBase string
}

func NewUploader(ctx context.Context, cfg config.Config) (*Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = awsv2.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathForm
	})

	publicBase := cfg.S3PublicBase
	if publicBase == "" {
		if cfg.S3Endpoint != "" {
			publicBase = strings.TrimRight(cfg.S3Endpoint, "/") + "/" + cfg.S3Bucket
		} else {
			publicBase = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.S3Bucket, cfg.S3Region)
		}
	}

	return &Uploader{
		client:     client,
		bucket:     cfg.S3Bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
	}, nil
}

// ObjectName derives the stored object key from the upload instant plus
// the original file's extension, e.g. 1735689600123.png.
func ObjectName(t time.Time, originalName string) string {
	ext := strings.ToLower(path.Ext(originalName))
	return fmt.Sprintf("%d%s", t.UnixMilli(), ext)
}

// Upload stores the object and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, originalName string, contentType string, body io.Reader) (string, error) {
	key := ObjectName(time.Now(), originalName)
	input := &s3.PutObjectInput{
		Bucket: awsv2.String(u.bucket),
		Key:    awsv2.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = awsv2.String(contentType)
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return u.publicBase + "/" + key, nil
}
