package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// Pattern returns size bytes of a repeating non-uniform pattern, so misplaced
// parts show up as content mismatches.
func Pattern(size int64) []byte {
	if size < 0 {
		size = 0
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return buf
}

// WriteFile fills the target path with size bytes of Pattern and returns the
// written content. A size < 0 writes an empty file.
func WriteFile(t testing.TB, path string, size int64) []byte {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data := Pattern(size)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return data
}
