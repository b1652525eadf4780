package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/schaermu/bucketsyncd/internal/store"
)

// LastModifiedKeyLayout is the canonical, second precision form used to
// compare remote and local modification times.
const LastModifiedKeyLayout = "2006-01-02T15:04:05Z"

// remoteTimeLayouts are tried in order. Layouts without a zone parse as UTC.
var remoteTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC1123,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// FileEntry is the normalized view of a file or object on either side.
type FileEntry struct {
	Key             string
	LastModified    time.Time
	LastModifiedKey string
	Size            int64
}

func newFileEntry(key string, modified time.Time, size int64) FileEntry {
	modified = modified.UTC()
	return FileEntry{
		Key:             key,
		LastModified:    modified,
		LastModifiedKey: modified.Format(LastModifiedKeyLayout),
		Size:            size,
	}
}

// NewRemoteEntry builds a FileEntry from a listing entry.
func NewRemoteEntry(obj store.Object) (FileEntry, error) {
	modified, err := parseRemoteTime(obj.LastModified)
	if err != nil {
		return FileEntry{}, &ParseError{Key: obj.Key, Field: "last modified", Value: obj.LastModified, Err: err}
	}

	size, err := strconv.ParseInt(strings.TrimSpace(obj.Size), 10, 64)
	if err != nil {
		return FileEntry{}, &ParseError{Key: obj.Key, Field: "size", Value: obj.Size, Err: err}
	}
	if size < 0 {
		return FileEntry{}, &ParseError{Key: obj.Key, Field: "size", Value: obj.Size, Err: errors.New("negative size")}
	}

	return newFileEntry(obj.Key, modified, size), nil
}

// NewLocalEntry builds a FileEntry for the file at path below root.
func NewLocalEntry(root, prefix, path string, info fs.FileInfo) (FileEntry, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return FileEntry{}, fmt.Errorf("relative path of %s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return FileEntry{}, fmt.Errorf("%s is outside of %s", path, root)
	}

	key := NormalizePrefix(prefix) + strings.TrimPrefix(filepath.ToSlash(rel), "/")
	return newFileEntry(key, info.ModTime(), info.Size()), nil
}

// NormalizePrefix strips leading slashes and ensures a non-empty prefix ends with "/".
func NormalizePrefix(prefix string) string {
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func parseRemoteTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	var firstErr error
	for _, layout := range remoteTimeLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
