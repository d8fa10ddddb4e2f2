package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// WriteAtomic streams r into path through a temporary file in the same
// directory, so readers never observe a partial file. It returns the number
// of bytes written.
func WriteAtomic(path string, r io.Reader, mode os.FileMode) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	written, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		cleanup()
		return written, err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		cleanup()
		return written, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return written, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return written, err
	}
	return written, nil
}

// ConcatFiles writes srcs to dst in order through WriteAtomic.
func ConcatFiles(dst string, srcs []string, mode os.FileMode) (int64, error) {
	readers := make([]io.Reader, 0, len(srcs))
	files := make([]*os.File, 0, len(srcs))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, src := range srcs {
		f, err := os.Open(src)
		if err != nil {
			return 0, err
		}
		files = append(files, f)
		readers = append(readers, f)
	}
	return WriteAtomic(dst, io.MultiReader(readers...), mode)
}

// FreeBytes reports the bytes available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
