package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ReGLOSS/Trackery-ImageProcessor/config"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
)

// AWSClient implements S3Client on top of aws-sdk-go-v2.
type AWSClient struct {
	client *s3.Client
}

// NewAWSClient loads the default AWS configuration chain for cfg.Region.
// Static credentials replace the chain when both keys are set, and a custom
// endpoint (MinIO, localstack) is honoured when present.
func NewAWSClient(ctx context.Context, cfg config.S3Config) (*AWSClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return &AWSClient{client: client}, nil
}

// NewAWSClientFrom wraps an existing SDK client.
func NewAWSClientFrom(c *s3.Client) *AWSClient { return &AWSClient{client: c} }

func (a *AWSClient) PutObject(ctx context.Context, bucket, key string, body io.Reader, meta map[string]string) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	user := make(map[string]string, len(meta))
	for k, v := range meta {
		if k == MetaContentType {
			in.ContentType = aws.String(v)
			continue
		}
		user[k] = v
	}
	if len(user) > 0 {
		in.Metadata = user
	}

	if _, err := a.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (a *AWSClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, notFound(fmt.Errorf("get object %s/%s: %w", bucket, key, err))
	}
	return out.Body, nil
}

func (a *AWSClient) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return notFound(fmt.Errorf("delete object %s/%s: %w", bucket, key, err))
	}
	return nil
}

func (a *AWSClient) HeadObject(ctx context.Context, bucket, key string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if err = notFound(err); errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("head object %s/%s: %w", bucket, key, err)
}

// notFound tags the SDK's missing-object errors with apperrors.ErrNotFound.
func notFound(err error) error {
	var (
		nsk *types.NoSuchKey
		nf  *types.NotFound
	)
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	}
	return err
}
