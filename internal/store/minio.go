package store

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const minioPageSize = 1000

// MinioAPI is the subset of minio.Core used by MinioClient.
type MinioAPI interface {
	ListObjects(bucket, prefix, marker, delimiter string, maxKeys int) (minio.ListBucketResult, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, minio.ObjectInfo, http.Header, error)
}

var _ MinioAPI = (*minio.Core)(nil)

// MinioClient implements Client with the low-level minio-go Core API, which
// exposes marker-based listing directly.
type MinioClient struct {
	core MinioAPI
}

// NewMinioClient creates a MinioClient. Endpoint is required.
func NewMinioClient(opts Options) (*MinioClient, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("minio backend requires an endpoint")
	}

	core, err := minio.NewCore(opts.Endpoint, &minio.Options{
		Creds:      credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:     opts.UseSSL,
		Region:     opts.Region,
		MaxRetries: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return NewMinioClientFromAPI(core), nil
}

// NewMinioClientFromAPI wraps an existing MinioAPI implementation.
func NewMinioClientFromAPI(api MinioAPI) *MinioClient {
	return &MinioClient{core: api}
}

// ListObjects lists one page of objects after marker.
func (c *MinioClient) ListObjects(_ context.Context, bucket, prefix, marker string) (*ListPage, error) {
	result, err := c.core.ListObjects(bucket, prefix, marker, "", minioPageSize)
	if err != nil {
		return nil, NewError("list", bucket, "", classifyMinioError(err))
	}

	page := &ListPage{
		Objects:     make([]Object, 0, len(result.Contents)),
		IsTruncated: result.IsTruncated,
	}
	for _, obj := range result.Contents {
		page.Objects = append(page.Objects, Object{
			Key:          obj.Key,
			LastModified: obj.LastModified.UTC().Format(time.RFC3339Nano),
			Size:         strconv.FormatInt(obj.Size, 10),
		})
	}

	return page, nil
}

// GetObject opens the object body.
func (c *MinioClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	body, _, _, err := c.core.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, NewError("get", bucket, key, classifyMinioError(err))
	}
	return body, nil
}

func classifyMinioError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchBucket":
		return fmt.Errorf("%w: %w", ErrRepositoryUnavailable, err)
	case "NoSuchKey":
		return fmt.Errorf("%w: %w", ErrObjectNotFound, err)
	}
	return err
}
