package store

import (
	"context"
	"fmt"
)

// Backend names accepted by New.
const (
	BackendS3    = "s3"
	BackendMinio = "minio"
)

// Options holds connection settings for a store client.
type Options struct {
	Backend         string
	Endpoint        string // host[:port], empty for the AWS default endpoint
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// URL returns the endpoint as a URL with the scheme selected by UseSSL.
func (o Options) URL() string {
	if o.Endpoint == "" {
		return ""
	}
	if o.UseSSL {
		return "https://" + o.Endpoint
	}
	return "http://" + o.Endpoint
}

// New creates a Client for the configured backend.
func New(ctx context.Context, opts Options) (Client, error) {
	switch opts.Backend {
	case BackendS3, "":
		return NewS3Client(ctx, opts)
	case BackendMinio:
		return NewMinioClient(opts)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", opts.Backend)
	}
}
