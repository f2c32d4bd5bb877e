package dataset

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Publisher mirrors written artifacts somewhere public
type Publisher interface {
	Publish(ctx context.Context, key string, data []byte) error
}

// S3Config configures an S3Publisher. Credentials come from the default
// AWS chain (AWS_ACCESS_KEY_ID, shared config, instance role).
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for S3-compatible stores
	Prefix   string
}

// S3Publisher uploads artifacts to one bucket
type S3Publisher struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Publisher creates a publisher from cfg
func NewS3Publisher(ctx context.Context, cfg S3Config, optFns ...func(*s3.Options)) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-west-2"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		for _, fn := range optFns {
			fn(o)
		}
	})

	return &S3Publisher{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// Publish uploads data under key, replacing any existing object
func (p *S3Publisher) Publish(ctx context.Context, key string, data []byte) error {
	if p.prefix != "" {
		key = path.Join(p.prefix, key)
	}
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String("max-age=300"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
