package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for store failures, checked with errors.Is.
var (
	// ErrRepositoryUnavailable indicates the bucket (or prefix) does not exist.
	ErrRepositoryUnavailable = errors.New("store: repository unavailable")

	// ErrObjectNotFound indicates the requested object does not exist.
	ErrObjectNotFound = errors.New("store: object not found")

	// ErrTransport covers network, auth and service failures.
	ErrTransport = errors.New("store: transport error")
)

// Error carries the operation and location of a failed store call.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store.%s %s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("store.%s bucket %s: %v", e.Op, e.Bucket, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the operation context. If err is not already one
// of the sentinel kinds it is classified as a transport error.
func NewError(op, bucket, key string, err error) *Error {
	if !errors.Is(err, ErrRepositoryUnavailable) &&
		!errors.Is(err, ErrObjectNotFound) &&
		!errors.Is(err, ErrTransport) {
		err = fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return &Error{Op: op, Bucket: bucket, Key: key, Err: err}
}

// IsRepositoryUnavailable reports whether err means the bucket or prefix is missing.
func IsRepositoryUnavailable(err error) bool {
	return errors.Is(err, ErrRepositoryUnavailable)
}

// IsObjectNotFound reports whether err means the object is missing.
func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
