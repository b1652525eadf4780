package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the AWS S3 client used by S3Client.
type S3API interface {
	ListObjects(ctx context.Context, params *s3.ListObjectsInput, optFns ...func(*s3.Options)) (*s3.ListObjectsOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// S3Client implements Client with aws-sdk-go-v2.
type S3Client struct {
	api S3API
}

// NewS3Client creates an S3Client with static credentials. SDK retries are
// disabled: a failed page or fetch fails the whole cycle.
func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithRetryMaxAttempts(1),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := opts.URL(); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
			return
		}
		o.EndpointOptions.DisableHTTPS = !opts.UseSSL
	})

	return NewS3ClientFromAPI(client), nil
}

// NewS3ClientFromAPI wraps an existing S3API implementation.
func NewS3ClientFromAPI(api S3API) *S3Client {
	return &S3Client{api: api}
}

// ListObjects lists one page using the marker-based ListObjects (v1) call.
func (c *S3Client) ListObjects(ctx context.Context, bucket, prefix, marker string) (*ListPage, error) {
	input := &s3.ListObjectsInput{
		Bucket: aws.String(bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if marker != "" {
		input.Marker = aws.String(marker)
	}

	output, err := c.api.ListObjects(ctx, input)
	if err != nil {
		return nil, NewError("list", bucket, "", classifyS3Error(err))
	}

	page := &ListPage{
		Objects:     make([]Object, 0, len(output.Contents)),
		IsTruncated: aws.ToBool(output.IsTruncated),
	}
	for _, obj := range output.Contents {
		page.Objects = append(page.Objects, Object{
			Key:          aws.ToString(obj.Key),
			LastModified: aws.ToTime(obj.LastModified).UTC().Format(time.RFC3339Nano),
			Size:         strconv.FormatInt(aws.ToInt64(obj.Size), 10),
		})
	}

	return page, nil
}

// GetObject opens the object body.
func (c *S3Client) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	output, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, NewError("get", bucket, key, classifyS3Error(err))
	}
	return output.Body, nil
}

// classifyS3Error maps SDK errors onto the store sentinels.
func classifyS3Error(err error) error {
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return fmt.Errorf("%w: %w", ErrRepositoryUnavailable, err)
	}

	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return fmt.Errorf("%w: %w", ErrObjectNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return fmt.Errorf("%w: %w", ErrRepositoryUnavailable, err)
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %w", ErrObjectNotFound, err)
		}
	}

	return err
}
