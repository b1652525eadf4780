package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/schaermu/bucketsyncd/internal/store"
)

const tempFilePattern = ".bucketsyncd-tmp-*"

// Applier mutates the working directory to match a list of changes.
type Applier struct {
	client  store.Client
	bucket  string
	workDir string
	logger  *slog.Logger
}

// NewApplier creates an Applier for the given bucket and working directory.
func NewApplier(client store.Client, bucket, workDir string, logger *slog.Logger) *Applier {
	return &Applier{
		client:  client,
		bucket:  bucket,
		workDir: filepath.Clean(workDir),
		logger:  logger,
	}
}

// Apply executes changes in order. The first failure stops the pass; changes
// applied before it are kept.
func (a *Applier) Apply(ctx context.Context, changes []Change) (*ApplyResult, error) {
	result := &ApplyResult{}

	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		target, err := a.resolve(change)
		if err != nil {
			return result, err
		}

		switch change.Kind {
		case Deleted:
			a.logger.Info("deleting file", "path", change.Path)
			deleted, dirRemoved, err := a.remove(target)
			if err != nil {
				return result, fmt.Errorf("failed to delete %s: %w", change.Path, err)
			}
			if deleted {
				result.FilesDeleted++
			}
			if dirRemoved {
				result.DirsRemoved++
			}

		case Created, Updated:
			a.logger.Info("downloading file",
				"kind", change.Kind,
				"key", change.RemoteKey,
				"path", change.Path)
			n, err := a.download(ctx, change, target)
			if err != nil {
				return result, fmt.Errorf("failed to download %s: %w", change.RemoteKey, err)
			}
			result.FilesWritten++
			result.BytesDownloaded += n

		default:
			return result, fmt.Errorf("unknown change kind %q for %s", change.Kind, change.RemoteKey)
		}
	}

	return result, nil
}

// Apply executes changes against workDir with a one-off Applier.
func Apply(ctx context.Context, client store.Client, bucket, workDir string, changes []Change, logger *slog.Logger) (*ApplyResult, error) {
	return NewApplier(client, bucket, workDir, logger).Apply(ctx, changes)
}

// resolve maps a change onto a path below the working directory. Symlinks in
// the parent directories are resolved inside the working directory; the final
// component is never followed, so removes and renames act on the entry itself.
func (a *Applier) resolve(change Change) (string, error) {
	rel := filepath.FromSlash(change.Path)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("change path %q is not inside the working directory", change.Path)
	}
	name := filepath.Base(rel)
	if name == "." || name == string(filepath.Separator) {
		return "", fmt.Errorf("change path %q resolves to the working directory", change.Path)
	}
	dir, err := securejoin.SecureJoin(a.workDir, filepath.Dir(rel))
	if err != nil {
		return "", &FilesystemError{Op: "resolve", Path: change.Path, Err: err}
	}
	return filepath.Join(dir, name), nil
}

// remove deletes target and then its parent directory if that is now empty
// and is not the working directory itself.
func (a *Applier) remove(target string) (deleted, dirRemoved bool, err error) {
	if err := os.Remove(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, false, nil
		}
		return false, false, &FilesystemError{Op: "remove", Path: target, Err: err}
	}

	dir := filepath.Dir(target)
	if dir == a.workDir {
		return true, false, nil
	}

	empty, err := isEmptyDir(dir)
	if err != nil {
		return true, false, &FilesystemError{Op: "read dir", Path: dir, Err: err}
	}
	if !empty {
		return true, false, nil
	}

	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return true, false, &FilesystemError{Op: "remove dir", Path: dir, Err: err}
	}
	a.logger.Debug("removed empty directory", "dir", dir)
	return true, true, nil
}

// download streams the object into a temp file next to target, renames it
// over target and stamps the remote modification time onto it.
func (a *Applier) download(ctx context.Context, change Change, target string) (int64, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, &FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}

	body, err := a.client.GetObject(ctx, a.bucket, change.RemoteKey)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = body.Close()
	}()

	tmpFile, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return 0, &FilesystemError{Op: "create", Path: dir, Err: err}
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	src := &readErrReader{r: body}
	n, err := io.Copy(tmpFile, src)
	if err != nil {
		_ = tmpFile.Close()
		if src.err != nil {
			return 0, store.NewError("get", a.bucket, change.RemoteKey, src.err)
		}
		return 0, &FilesystemError{Op: "write", Path: tmpPath, Err: err}
	}

	if err := tmpFile.Chmod(0644); err != nil {
		_ = tmpFile.Close()
		return 0, &FilesystemError{Op: "chmod", Path: tmpPath, Err: err}
	}

	if err := tmpFile.Close(); err != nil {
		return 0, &FilesystemError{Op: "close", Path: tmpPath, Err: err}
	}

	if err := os.Rename(tmpPath, target); err != nil {
		return 0, &FilesystemError{Op: "rename", Path: target, Err: err}
	}

	if err := os.Chtimes(target, change.Timestamp, change.Timestamp); err != nil {
		return 0, &FilesystemError{Op: "chtimes", Path: target, Err: err}
	}

	return n, nil
}

func isEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = f.Close()
	}()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

// readErrReader remembers read errors so they can be told apart from write errors.
type readErrReader struct {
	r   io.Reader
	err error
}

func (r *readErrReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		r.err = err
	}
	return n, err
}
