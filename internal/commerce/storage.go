package commerce

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// CSVStaging fetches a partner's bulk price CSV from S3 before handing it
// to ImportPriceCSV, for partners who stage their file rather than
// streaming it inline. This package only ever reads objects - it never
// presigns upload/download URLs, since nothing here serves those URLs
// onward to a browser.
type CSVStaging struct {
	client *s3.Client
	bucket string
}

// CSVStagingConfig carries the connection settings for the staging
// bucket.
type CSVStagingConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // optional, for MinIO-compatible staging buckets
	AccessKeyID     string
	SecretAccessKey string
}

func NewCSVStaging(ctx context.Context, cfg CSVStagingConfig) (*CSVStaging, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("commerce: load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &CSVStaging{client: client, bucket: cfg.Bucket}, nil
}

// FetchPriceCSVFromS3 downloads the object at key and returns its body, so
// the caller can pipe it straight into ImportPriceCSV without buffering a
// local copy.
func (c *CSVStaging) FetchPriceCSVFromS3(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("commerce: fetch staged csv %s: %w", key, err)
	}
	return out.Body, nil
}
