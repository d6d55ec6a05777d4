package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates a fixture file of the given size, making parent
// directories as needed. The content is an arbitrary repeating byte;
// tests only care that the file exists and is non-empty.
func WriteFile(t testing.TB, path string, size int) {
	t.Helper()

	if size < 1 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xA7}, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
