// Package store defines the object store capability the mirror consumes and
// provides S3 and MinIO implementations of it.
package store

import (
	"context"
	"io"
)

// Object is one entry of a listing page, in the store's textual form.
type Object struct {
	Key          string
	LastModified string
	Size         string
}

// ListPage is a single page returned by ListObjects.
type ListPage struct {
	Objects     []Object
	IsTruncated bool
}

// Client is the read-only subset of an object store the mirror needs.
type Client interface {
	// ListObjects lists one page of objects under prefix, starting after marker.
	ListObjects(ctx context.Context, bucket, prefix, marker string) (*ListPage, error)
	// GetObject opens the object body. Callers must close it.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
