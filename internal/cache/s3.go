package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used for image origins.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Origin serves s3://bucket/key URLs.
type S3Origin struct {
	Client S3API
}

// NewS3Origin loads the default AWS configuration for region. With anonymous
// set, requests are unsigned so public buckets work without credentials.
func NewS3Origin(ctx context.Context, region string, anonymous bool) (*S3Origin, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if anonymous {
		opts = append(opts, config.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Origin{Client: s3.NewFromConfig(cfg)}, nil
}

func splitS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 url: %s", raw)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3 url %s has no object key", raw)
	}
	return u.Host, key, nil
}

func (o *S3Origin) LastModified(ctx context.Context, raw string) (string, error) {
	bucket, key, err := splitS3URL(raw)
	if err != nil {
		return "", err
	}
	out, err := o.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("head %s: %w", raw, err)
	}
	if out.LastModified == nil {
		return "", nil
	}
	return out.LastModified.UTC().Format(http.TimeFormat), nil
}

func (o *S3Origin) Open(ctx context.Context, raw string) (io.ReadCloser, error) {
	bucket, key, err := splitS3URL(raw)
	if err != nil {
		return nil, err
	}
	out, err := o.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", raw, err)
	}
	return out.Body, nil
}
