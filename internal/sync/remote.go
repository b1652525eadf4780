package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/schaermu/bucketsyncd/internal/store"
)

// RemoteLister enumerates every object below a bucket prefix.
type RemoteLister struct {
	client            store.Client
	bucket            string
	prefix            string
	ignoreMissingRoot bool
	logger            *slog.Logger
}

// NewRemoteLister creates a RemoteLister. The prefix is normalized so that
// sibling prefixes never match.
func NewRemoteLister(client store.Client, bucket, prefix string, ignoreMissingRoot bool, logger *slog.Logger) *RemoteLister {
	return &RemoteLister{
		client:            client,
		bucket:            bucket,
		prefix:            NormalizePrefix(prefix),
		ignoreMissingRoot: ignoreMissingRoot,
		logger:            logger,
	}
}

// List pages through the listing with a marker and returns the entries
// sorted by key. Folder placeholder keys (ending in "/") are skipped.
func (l *RemoteLister) List(ctx context.Context) ([]FileEntry, error) {
	byKey := make(map[string]FileEntry)
	marker := ""
	pages := 0

	for {
		page, err := l.client.ListObjects(ctx, l.bucket, l.prefix, marker)
		if err != nil {
			if store.IsRepositoryUnavailable(err) && l.ignoreMissingRoot {
				l.logger.Warn("remote root not found, treating as empty",
					"bucket", l.bucket,
					"prefix", l.prefix,
					"error", err)
				return []FileEntry{}, nil
			}
			return nil, fmt.Errorf("list %s/%s: %w", l.bucket, l.prefix, err)
		}
		pages++

		for _, obj := range page.Objects {
			if strings.HasSuffix(obj.Key, "/") {
				continue
			}
			if _, err := RelativeKey(obj.Key, l.prefix); err != nil {
				l.logger.Warn("skipping object without a local path", "key", obj.Key, "error", err)
				continue
			}
			entry, err := NewRemoteEntry(obj)
			if err != nil {
				return nil, err
			}
			byKey[entry.Key] = entry
		}

		if !page.IsTruncated {
			break
		}
		if len(page.Objects) == 0 {
			return nil, store.NewError("list", l.bucket, "",
				fmt.Errorf("truncated page %d without objects, marker %q cannot advance", pages, marker))
		}
		marker = page.Objects[len(page.Objects)-1].Key
	}

	entries := make([]FileEntry, 0, len(byKey))
	for _, entry := range byKey {
		entries = append(entries, entry)
	}
	sortEntries(entries)

	l.logger.Debug("listed remote objects",
		"bucket", l.bucket,
		"prefix", l.prefix,
		"pages", pages,
		"count", len(entries))

	return entries, nil
}

// ListRemote lists every object below prefix in bucket.
func ListRemote(ctx context.Context, client store.Client, bucket, prefix string, ignoreMissingRoot bool, logger *slog.Logger) ([]FileEntry, error) {
	return NewRemoteLister(client, bucket, prefix, ignoreMissingRoot, logger).List(ctx)
}
