//go:build integration

package tier1

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/testcontainers/testcontainers-go"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"

	"github.com/schaermu/bucketsyncd/internal/testutil"
)

const (
	minioImage     = "minio/minio:RELEASE.2024-01-16T16-07-38Z"
	minioUser      = "bucketsyncd"
	minioPassword  = "bucketsyncd-secret"
	defaultTimeout = 5 * time.Minute
)

// Harness runs a MinIO container and the bucketsyncd binary for Tier 1
// integration tests.
type Harness struct {
	t          *testing.T
	container  *tcminio.MinioContainer
	client     *minio.Client
	endpoint   string
	binary     string
	keepOnFail bool
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return &Harness{
		t:          t,
		keepOnFail: os.Getenv("INTEGRATION_KEEP_CONTAINER") == "1",
	}
}

// StartMinio starts the MinIO container and connects the seeding client.
func (h *Harness) StartMinio(ctx context.Context) error {
	h.t.Helper()
	h.t.Logf("Starting %s", minioImage)

	container, err := tcminio.Run(ctx, minioImage,
		tcminio.WithUsername(minioUser),
		tcminio.WithPassword(minioPassword),
	)
	if err != nil {
		return fmt.Errorf("start minio: %w", err)
	}
	h.container = container

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		return fmt.Errorf("minio endpoint: %w", err)
	}
	h.endpoint = endpoint

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(minioUser, minioPassword, ""),
		Secure: false,
	})
	if err != nil {
		return fmt.Errorf("minio client: %w", err)
	}
	h.client = client

	h.t.Logf("MinIO listening on %s", h.endpoint)
	return nil
}

// Cleanup terminates the container
func (h *Harness) Cleanup(ctx context.Context) {
	h.t.Helper()
	if h.container == nil {
		return
	}

	if h.keepOnFail && h.t.Failed() {
		h.t.Logf("Test failed and INTEGRATION_KEEP_CONTAINER=1, keeping MinIO at %s", h.endpoint)
		h.t.Logf("Credentials: %s / %s", minioUser, minioPassword)
		return
	}

	if err := testcontainers.TerminateContainer(h.container); err != nil {
		h.t.Logf("Warning: failed to terminate container: %v", err)
	}
}

// Endpoint returns the host:port of the MinIO server.
func (h *Harness) Endpoint() string {
	return h.endpoint
}

// CreateBucket creates a bucket on the MinIO server.
func (h *Harness) CreateBucket(ctx context.Context, bucket string) {
	h.t.Helper()
	if err := h.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		h.t.Fatalf("create bucket %s: %v", bucket, err)
	}
}

// PutObject uploads content under key.
func (h *Harness) PutObject(ctx context.Context, bucket, key, content string) {
	h.t.Helper()
	_, err := h.client.PutObject(ctx, bucket, key, strings.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		h.t.Fatalf("put %s/%s: %v", bucket, key, err)
	}
}

// RemoveObject deletes key from the bucket.
func (h *Harness) RemoveObject(ctx context.Context, bucket, key string) {
	h.t.Helper()
	if err := h.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		h.t.Fatalf("remove %s/%s: %v", bucket, key, err)
	}
}

// StatObject returns the server-side modification time of key.
func (h *Harness) StatObject(ctx context.Context, bucket, key string) time.Time {
	h.t.Helper()
	info, err := h.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		h.t.Fatalf("stat %s/%s: %v", bucket, key, err)
	}
	return info.LastModified
}

// BuildBinary compiles cmd/bucketsyncd into a temporary directory.
func (h *Harness) BuildBinary(ctx context.Context) error {
	h.t.Helper()

	projectRoot := testutil.ProjectRoot(h.t)

	h.binary = filepath.Join(h.t.TempDir(), "bucketsyncd")
	h.t.Logf("Building %s", h.binary)

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/bucketsyncd")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Run executes the bucketsyncd binary with args.
func (h *Harness) Run(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()
	if h.binary == "" {
		return "", "", 0, fmt.Errorf("binary not built")
	}

	cmd := exec.CommandContext(ctx, h.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustRun executes the binary and fails the test if it returns non-zero
func (h *Harness) MustRun(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Run(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout, stderr
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
