// Package testutil provides common test helpers for vzlinux tests.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// VMDir creates a temporary VM directory holding a kernel, an initrd and a
// root disk named as the profile defaults expect.
func VMDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	CreateTestFile(t, filepath.Join(dir, "vmlinuz"))
	CreateTestFile(t, filepath.Join(dir, "initrd.img"))
	CreateTestDisk(t, filepath.Join(dir, "root.img"), 1)
	return dir
}

// WriteProfile writes fields as a JSON profile named vm.json in dir and
// returns its path.
func WriteProfile(t *testing.T, dir string, fields map[string]any) string {
	t.Helper()

	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal profile: %v", err)
	}

	path := filepath.Join(dir, "vm.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}
	return path
}

// CreateTestFile creates a small placeholder file at path.
func CreateTestFile(t *testing.T, path string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte("placeholder"), 0o644); err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
}

// CreateTestDisk creates a sparse disk file at the given path with the specified size.
func CreateTestDisk(t *testing.T, path string, sizeMB int64) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test disk at %s: %v", path, err)
	}
	defer f.Close()

	// Sparse: truncating does not allocate blocks.
	sizeBytes := sizeMB * 1024 * 1024
	if err := f.Truncate(sizeBytes); err != nil {
		t.Fatalf("failed to truncate test disk to %d bytes: %v", sizeBytes, err)
	}
}
