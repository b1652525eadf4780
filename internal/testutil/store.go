package testutil

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/bucketsyncd/internal/store"
)

const defaultPageSize = 1000

type fakeObject struct {
	data     []byte
	modified time.Time
}

// FakeStore is an in-memory store.Client. Listings follow ListObjects v1
// marker semantics: keys in ascending order, strictly after the marker.
type FakeStore struct {
	mu       sync.Mutex
	buckets  map[string]map[string]fakeObject
	pageSize int
	listErr  error
	getErrs  map[string]error
	bodyErrs map[string]error

	listCalls  int
	gets       []string
	openBodies int
}

var _ store.Client = (*FakeStore)(nil)

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		buckets:  make(map[string]map[string]fakeObject),
		pageSize: defaultPageSize,
		getErrs:  make(map[string]error),
		bodyErrs: make(map[string]error),
	}
}

// SetPageSize sets the maximum number of objects per listing page.
func (f *FakeStore) SetPageSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageSize = n
}

// CreateBucket creates an empty bucket.
func (f *FakeStore) CreateBucket(bucket string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[bucket]; !ok {
		f.buckets[bucket] = make(map[string]fakeObject)
	}
}

// Put stores an object, creating the bucket if needed.
func (f *FakeStore) Put(bucket, key string, data []byte, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	objects, ok := f.buckets[bucket]
	if !ok {
		objects = make(map[string]fakeObject)
		f.buckets[bucket] = objects
	}
	objects[key] = fakeObject{data: append([]byte(nil), data...), modified: modified}
}

// Remove deletes an object.
func (f *FakeStore) Remove(bucket, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.buckets[bucket], key)
}

// SetListError makes every ListObjects call fail with err. nil clears it.
func (f *FakeStore) SetListError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// SetGetError makes GetObject for key fail with err.
func (f *FakeStore) SetGetError(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getErrs[key] = err
}

// SetBodyError makes reading the body of key fail with err after its content.
func (f *FakeStore) SetBodyError(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodyErrs[key] = err
}

// ListCalls returns the number of ListObjects calls.
func (f *FakeStore) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// Gets returns the keys requested through GetObject, in call order.
func (f *FakeStore) Gets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.gets...)
}

// OpenBodies returns the number of object bodies not closed yet.
func (f *FakeStore) OpenBodies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openBodies
}

// ListObjects implements store.Client.
func (f *FakeStore) ListObjects(_ context.Context, bucket, prefix, marker string) (*store.ListPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	if f.listErr != nil {
		return nil, store.NewError("list", bucket, "", f.listErr)
	}

	objects, ok := f.buckets[bucket]
	if !ok {
		return nil, store.NewError("list", bucket, "", store.ErrRepositoryUnavailable)
	}

	keys := make([]string, 0, len(objects))
	for key := range objects {
		if strings.HasPrefix(key, prefix) && key > marker {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	page := &store.ListPage{}
	if len(keys) > f.pageSize {
		keys = keys[:f.pageSize]
		page.IsTruncated = true
	}

	page.Objects = make([]store.Object, 0, len(keys))
	for _, key := range keys {
		obj := objects[key]
		page.Objects = append(page.Objects, store.Object{
			Key:          key,
			LastModified: obj.modified.UTC().Format(time.RFC3339Nano),
			Size:         strconv.Itoa(len(obj.data)),
		})
	}
	return page, nil
}

// GetObject implements store.Client.
func (f *FakeStore) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, key)

	if err, ok := f.getErrs[key]; ok {
		return nil, store.NewError("get", bucket, key, err)
	}

	obj, ok := f.buckets[bucket][key]
	if !ok {
		return nil, store.NewError("get", bucket, key, store.ErrObjectNotFound)
	}

	var r io.Reader = bytes.NewReader(obj.data)
	if err, ok := f.bodyErrs[key]; ok {
		r = io.MultiReader(r, &errReader{err: err})
	}

	f.openBodies++
	return &fakeBody{Reader: r, store: f}, nil
}

type fakeBody struct {
	io.Reader
	store  *FakeStore
	closed bool
}

func (b *fakeBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.store.mu.Lock()
	b.store.openBodies--
	b.store.mu.Unlock()
	return nil
}

type errReader struct {
	err error
}

func (r *errReader) Read([]byte) (int, error) {
	return 0, r.err
}
