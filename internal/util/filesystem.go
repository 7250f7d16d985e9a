package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileExists reports whether path exists and is a regular file
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// EnsureDir creates the directory (and parents) if it does not exist
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// CopyFile copies src to dst, creating parent directories as needed.
// Returns the number of bytes written.
func CopyFile(src, dst string) (int64, error) {
	if err := EnsureDir(filepath.Dir(dst)); err != nil {
		return 0, err
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dst, err)
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return n, fmt.Errorf("failed to copy %s: %w", src, err)
	}

	if err := out.Close(); err != nil {
		os.Remove(dst)
		return n, fmt.Errorf("failed to close %s: %w", dst, err)
	}

	return n, nil
}

// FileSize returns the size of a file in bytes
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return info.Size(), nil
}
