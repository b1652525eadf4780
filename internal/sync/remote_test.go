package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/bucketsyncd/internal/store"
	"github.com/schaermu/bucketsyncd/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedClient returns prepared pages in order and records the markers it was called with.
type scriptedClient struct {
	pages   []*store.ListPage
	markers []string
}

func (c *scriptedClient) ListObjects(_ context.Context, _, _, marker string) (*store.ListPage, error) {
	c.markers = append(c.markers, marker)
	if len(c.markers) > len(c.pages) {
		return nil, fmt.Errorf("unexpected call %d", len(c.markers))
	}
	return c.pages[len(c.markers)-1], nil
}

func (c *scriptedClient) GetObject(context.Context, string, string) (io.ReadCloser, error) {
	return nil, store.ErrObjectNotFound
}

func obj(key, size string) store.Object {
	return store.Object{Key: key, LastModified: "2024-03-01T10:00:00Z", Size: size}
}

func seedStore(f *testutil.FakeStore, bucket string, keys ...string) {
	mod := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, key := range keys {
		f.Put(bucket, key, []byte("content of "+key), mod)
	}
}

func TestListRemote_PaginationMatchesSinglePage(t *testing.T) {
	keys := []string{"p/a", "p/b", "p/c/d", "p/e", "p/f"}

	single := testutil.NewFakeStore()
	seedStore(single, "bkt", keys...)

	paged := testutil.NewFakeStore()
	paged.SetPageSize(2)
	seedStore(paged, "bkt", keys...)

	want, err := ListRemote(context.Background(), single, "bkt", "p", false, testLogger())
	require.NoError(t, err)
	got, err := ListRemote(context.Background(), paged, "bkt", "p", false, testLogger())
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, keys, entryKeys(got))
	assert.Equal(t, 1, single.ListCalls())
	assert.Equal(t, 3, paged.ListCalls())
}

func TestListRemote_MarkerAdvances(t *testing.T) {
	client := &scriptedClient{pages: []*store.ListPage{
		{Objects: []store.Object{obj("a", "1"), obj("b", "2")}, IsTruncated: true},
		{Objects: []store.Object{obj("c", "3")}, IsTruncated: false},
	}}

	entries, err := NewRemoteLister(client, "bkt", "", false, testLogger()).List(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"", "b"}, client.markers)
	assert.Equal(t, []string{"a", "b", "c"}, entryKeys(entries))
}

func TestListRemote_DuplicateKeysKeepLast(t *testing.T) {
	client := &scriptedClient{pages: []*store.ListPage{
		{Objects: []store.Object{obj("a", "1"), obj("b", "2")}, IsTruncated: true},
		{Objects: []store.Object{obj("b", "20")}, IsTruncated: false},
	}}

	entries, err := ListRemote(context.Background(), client, "bkt", "", false, testLogger())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(20), entries[1].Size)
}

func TestListRemote_TruncatedEmptyPage(t *testing.T) {
	client := &scriptedClient{pages: []*store.ListPage{
		{Objects: []store.Object{obj("a", "1")}, IsTruncated: true},
		{Objects: nil, IsTruncated: true},
	}}

	_, err := ListRemote(context.Background(), client, "bkt", "", false, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrTransport)
	assert.Len(t, client.markers, 2)
}

func TestListRemote_MissingRoot(t *testing.T) {
	f := testutil.NewFakeStore()

	entries, err := ListRemote(context.Background(), f, "missing", "", true, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	_, err = ListRemote(context.Background(), f, "missing", "", false, testLogger())
	assert.ErrorIs(t, err, store.ErrRepositoryUnavailable)
}

func TestListRemote_TransportErrorNeverSuppressed(t *testing.T) {
	f := testutil.NewFakeStore()
	f.CreateBucket("bkt")
	f.SetListError(errors.New("connection refused"))

	_, err := ListRemote(context.Background(), f, "bkt", "", true, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrTransport)
	assert.False(t, store.IsRepositoryUnavailable(err))
}

func TestListRemote_ParseErrorIsFatal(t *testing.T) {
	client := &scriptedClient{pages: []*store.ListPage{
		{Objects: []store.Object{obj("a", "1"), obj("b", "lots")}},
	}}

	_, err := ListRemote(context.Background(), client, "bkt", "", false, testLogger())
	var parseErr *ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "b", parseErr.Key)
}

func TestListRemote_SkipsUnmappableKeys(t *testing.T) {
	client := &scriptedClient{pages: []*store.ListPage{
		{Objects: []store.Object{
			obj("p/", "0"),
			obj("p/dir/", "0"),
			obj("p/../escape", "1"),
			obj("p/a//b", "1"),
			obj("p/ok.txt", "2"),
		}},
	}}

	entries, err := ListRemote(context.Background(), client, "bkt", "p/", false, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"p/ok.txt"}, entryKeys(entries))
}

func TestListRemote_SiblingPrefixExcluded(t *testing.T) {
	f := testutil.NewFakeStore()
	seedStore(f, "bkt", "a/b/in.txt", "a/bc/out.txt")

	entries, err := ListRemote(context.Background(), f, "bkt", "a/b", false, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b/in.txt"}, entryKeys(entries))
}
