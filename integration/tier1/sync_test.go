//go:build integration

package tier1

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/bucketsyncd/internal/config"
	"github.com/schaermu/bucketsyncd/internal/store"
	"github.com/schaermu/bucketsyncd/internal/sync"
)

const (
	testBucket = "website"
	testPrefix = "public"
)

func TestTier1Sync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)

	require.NoError(t, h.StartMinio(ctx), "start minio")
	defer h.Cleanup(ctx)

	require.NoError(t, h.BuildBinary(ctx), "build binary")

	h.CreateBucket(ctx, testBucket)
	h.PutObject(ctx, testBucket, "public/index.html", "<h1>hello</h1>")
	h.PutObject(ctx, testBucket, "public/css/site.css", "h1{color:red}")
	h.PutObject(ctx, testBucket, "public/blog/2024/post.html", "<p>post</p>")
	h.PutObject(ctx, testBucket, "drafts/unpublished.html", "<p>draft</p>")

	workDir := filepath.Join(t.TempDir(), "www")
	cfgPath := writeConfig(t, h, store.BackendMinio, workDir, true)

	// Run all scenarios as subtests
	t.Run("A_DiffBeforeSync", func(t *testing.T) {
		testDiffBeforeSync(t, h, ctx, cfgPath)
	})

	t.Run("B_InitialSync", func(t *testing.T) {
		testInitialSync(t, h, ctx, cfgPath, workDir)
	})

	t.Run("C_NoOpSync", func(t *testing.T) {
		testNoOpSync(t, h, ctx, cfgPath)
	})

	t.Run("D_UpdateObject", func(t *testing.T) {
		testUpdateObject(t, h, ctx, cfgPath, workDir)
	})

	t.Run("E_DeleteObjectPrunesDir", func(t *testing.T) {
		testDeleteObject(t, h, ctx, cfgPath, workDir)
	})

	t.Run("F_DryRunMode", func(t *testing.T) {
		testDryRunMode(t, h, ctx, workDir)
	})

	t.Run("G_S3BackendMatches", func(t *testing.T) {
		testS3Backend(t, h, ctx, workDir)
	})

	t.Run("H_MissingBucket", func(t *testing.T) {
		testMissingBucket(t, h, ctx)
	})
}

// writeConfig writes a bucketsyncd config file and returns its path
func writeConfig(t *testing.T, h *Harness, backend, workDir string, autoGetSource bool) string {
	t.Helper()

	content := fmt.Sprintf(`store:
  backend: %s
  endpoint: %q
  bucket: %s
  prefix: %s
  access_key_id: %s
  secret_access_key: %s

paths:
  work_dir: %s

sync:
  auto_get_source: %t
`, backend, h.Endpoint(), testBucket, testPrefix, minioUser, minioPassword, workDir, autoGetSource)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "write config")
	return path
}

func diffJSON(t *testing.T, h *Harness, ctx context.Context, cfgPath string) []sync.Change {
	t.Helper()
	stdout, _ := h.MustRun(ctx, "diff", "--config", cfgPath, "--output", "json")

	var changes []sync.Change
	require.NoError(t, json.Unmarshal([]byte(stdout), &changes), "decode diff output %q", stdout)
	return changes
}

func testDiffBeforeSync(t *testing.T, h *Harness, ctx context.Context, cfgPath string) {
	changes := diffJSON(t, h, ctx, cfgPath)

	var paths []string
	for _, c := range changes {
		assert.Equal(t, sync.Created, c.Kind, "unexpected change for %s", c.Path)
		paths = append(paths, c.Path)
	}

	assert.Equal(t, []string{"blog/2024/post.html", "css/site.css", "index.html"}, paths)
}

func testInitialSync(t *testing.T, h *Harness, ctx context.Context, cfgPath, workDir string) {
	stdout, stderr := h.MustRun(ctx, "sync", "--config", cfgPath)
	t.Logf("stdout: %s", stdout)
	t.Logf("stderr: %s", stderr)

	content, err := os.ReadFile(filepath.Join(workDir, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<h1>hello</h1>", string(content))

	info, err := os.Stat(filepath.Join(workDir, "blog", "2024", "post.html"))
	require.NoError(t, err)
	remote := h.StatObject(ctx, testBucket, "public/blog/2024/post.html")
	assert.Equal(t, remote.Unix(), info.ModTime().Unix(), "post.html mtime")

	assert.NoFileExists(t, filepath.Join(workDir, "unpublished.html"), "object outside the prefix was mirrored")
}

func testNoOpSync(t *testing.T, h *Harness, ctx context.Context, cfgPath string) {
	assert.Empty(t, diffJSON(t, h, ctx, cfgPath), "expected no changes after sync")

	stdout, _ := h.MustRun(ctx, "sync", "--config", cfgPath)
	assert.Contains(t, stdout, "up to date")
}

func testUpdateObject(t *testing.T, h *Harness, ctx context.Context, cfgPath, workDir string) {
	h.PutObject(ctx, testBucket, "public/css/site.css", "h1{color:blue;font-weight:bold}")

	changes := diffJSON(t, h, ctx, cfgPath)
	require.Len(t, changes, 1)
	require.Equal(t, sync.Updated, changes[0].Kind)
	require.Equal(t, "css/site.css", changes[0].Path)

	h.MustRun(ctx, "sync", "--config", cfgPath)

	content, err := os.ReadFile(filepath.Join(workDir, "css", "site.css"))
	require.NoError(t, err)
	assert.Equal(t, "h1{color:blue;font-weight:bold}", string(content))
}

func testDeleteObject(t *testing.T, h *Harness, ctx context.Context, cfgPath, workDir string) {
	h.RemoveObject(ctx, testBucket, "public/blog/2024/post.html")

	h.MustRun(ctx, "sync", "--config", cfgPath)

	assert.NoFileExists(t, filepath.Join(workDir, "blog", "2024", "post.html"), "deleted object still present locally")
	assert.NoDirExists(t, filepath.Join(workDir, "blog", "2024"), "empty parent directory was not removed")
	assert.DirExists(t, workDir, "working directory must survive")
}

func testDryRunMode(t *testing.T, h *Harness, ctx context.Context, workDir string) {
	h.PutObject(ctx, testBucket, "public/about.html", "<p>about</p>")

	cfgPath := writeConfig(t, h, store.BackendMinio, workDir, true)
	stdout, _ := h.MustRun(ctx, "sync", "--config", cfgPath, "--dry-run")
	assert.Contains(t, stdout, "dry-run")
	assert.NoFileExists(t, filepath.Join(workDir, "about.html"), "dry-run wrote a file")

	// report-only configuration behaves the same
	reportOnly := writeConfig(t, h, store.BackendMinio, workDir, false)
	h.MustRun(ctx, "sync", "--config", reportOnly)
	assert.NoFileExists(t, filepath.Join(workDir, "about.html"), "report-only sync wrote a file")
}

// testS3Backend runs the engine in-process through the AWS SDK client.
func testS3Backend(t *testing.T, h *Harness, ctx context.Context, workDir string) {
	cfg, err := config.Load(writeConfig(t, h, store.BackendS3, workDir, true))
	require.NoError(t, err)

	client, err := store.New(ctx, cfg.StoreOptions())
	require.NoError(t, err, "s3 client")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := sync.NewEngine(cfg, client, logger, false)

	plan, err := engine.Detect(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, plan.Len(), "got %+v", plan.Changes())
	require.Len(t, plan.Created, 1)
	require.Equal(t, "about.html", plan.Created[0].Path)

	require.NoError(t, engine.Run(ctx))
	assert.FileExists(t, filepath.Join(workDir, "about.html"), "about.html not mirrored through the s3 backend")

	// both backends agree the mirror is current
	plan, err = engine.Detect(ctx)
	require.NoError(t, err)
	assert.True(t, plan.Empty(), "expected empty plan, got %+v", plan.Changes())
}

func testMissingBucket(t *testing.T, h *Harness, ctx context.Context) {
	workDir := filepath.Join(t.TempDir(), "www")
	cfgPath := writeConfig(t, h, store.BackendMinio, workDir, true)

	content, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	missing := strings.Replace(string(content), "bucket: "+testBucket, "bucket: does-not-exist", 1)
	require.NoError(t, os.WriteFile(cfgPath, []byte(missing), 0o600))

	_, stderr, exitCode, err := h.Run(ctx, "sync", "--config", cfgPath)
	require.NoError(t, err, "exec failed")
	require.NotZero(t, exitCode, "expected sync against a missing bucket to fail")
	t.Logf("stderr: %s", stderr)

	tolerant := missing + "  ignore_missing_root: true\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(tolerant), 0o600))
	h.MustRun(ctx, "sync", "--config", cfgPath)
}
