package testutil

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// ModulePath is the import path declared in the repository's go.mod.
const ModulePath = "github.com/schaermu/bucketsyncd"

// FindProjectRoot walks up from the caller's source file to the directory
// whose go.mod declares ModulePath. Nested modules are skipped.
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}
	return findModuleRoot(filepath.Dir(filename), ModulePath)
}

// ProjectRoot is FindProjectRoot for tests; it fails t when no root is found.
func ProjectRoot(t testing.TB) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		t.Fatal("failed to get caller information")
	}
	root, err := findModuleRoot(filepath.Dir(filename), ModulePath)
	if err != nil {
		t.Fatalf("find project root: %v", err)
	}
	return root
}

func findModuleRoot(dir, module string) (string, error) {
	for {
		data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
		if err == nil && declaresModule(data, module) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod for %s not found in any parent directory", module)
		}
		dir = parent
	}
}

func declaresModule(goMod []byte, module string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(goMod))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if name, ok := strings.CutPrefix(line, "module "); ok {
			return strings.Trim(strings.TrimSpace(name), `"`) == module
		}
	}
	return false
}
