package sync

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func entryKeys(entries []FileEntry) []string {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	return keys
}

func TestListLocal(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "z.txt"), "z")
	writeFile(t, filepath.Join(root, "a", "b", "c.txt"), "abc")
	writeFile(t, filepath.Join(root, "a", "d.txt"), "ad")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty", "dir"), 0755))

	entries, err := ListLocal(root, "mirror")
	require.NoError(t, err)

	assert.Equal(t, []string{"mirror/a/b/c.txt", "mirror/a/d.txt", "mirror/z.txt"}, entryKeys(entries))
	assert.Equal(t, int64(3), entries[0].Size)
}

func TestListLocal_MissingRoot(t *testing.T) {
	entries, err := ListLocal(filepath.Join(t.TempDir(), "does-not-exist"), "")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestListLocal_RootIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	writeFile(t, path, "x")

	_, err := ListLocal(path, "")
	var fsErr *FilesystemError
	assert.True(t, errors.As(err, &fsErr))
}

func TestListLocal_FollowsFileSymlinks(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(t.TempDir(), "target.txt")
	writeFile(t, target, "linked content")
	if err := os.Symlink(target, filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	entries, err := ListLocal(root, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "link.txt", entries[0].Key)
	assert.Equal(t, int64(len("linked content")), entries[0].Size)
}

func TestListLocal_PermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}

	root := t.TempDir()
	locked := filepath.Join(root, "locked")
	writeFile(t, filepath.Join(locked, "secret.txt"), "x")
	require.NoError(t, os.Chmod(locked, 0))
	t.Cleanup(func() {
		_ = os.Chmod(locked, 0755)
	})

	_, err := ListLocal(root, "")
	var fsErr *FilesystemError
	assert.True(t, errors.As(err, &fsErr))
}
