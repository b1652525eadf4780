package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindProjectRoot(t *testing.T) {
	root, err := FindProjectRoot()
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	require.NoError(t, err)
	assert.True(t, declaresModule(data, ModulePath))
	assert.Equal(t, root, ProjectRoot(t))
}

func TestFindModuleRoot_SkipsNestedModules(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "third_party", "lib")
	deep := filepath.Join(nested, "pkg")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module "+ModulePath+"\n\ngo 1.24\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "go.mod"), []byte("module example.com/lib\n"), 0o644))

	got, err := findModuleRoot(deep, ModulePath)
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestFindModuleRoot_NotFound(t *testing.T) {
	_, err := findModuleRoot(t.TempDir(), "example.com/missing")
	assert.Error(t, err)
}

func TestDeclaresModule(t *testing.T) {
	assert.True(t, declaresModule([]byte("// comment\nmodule \"github.com/schaermu/bucketsyncd\"\n"), ModulePath))
	assert.False(t, declaresModule([]byte("module github.com/schaermu/bucketsyncd/tools\n"), ModulePath))
	assert.False(t, declaresModule([]byte("go 1.24\n"), ModulePath))
}
