// Package fileutil provides small filesystem helpers shared across the
// pipeline.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Exists reports whether path exists and is a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Size returns the size of the file at path, or 0 when it does not exist.
func Size(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// WriteAtomic writes data to path via a temporary sibling file and rename,
// so readers never observe a partial file.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// CopyStream copies from r into a freshly created file at path.
func CopyStream(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %q: %w", path, err)
	}
	written, err := io.Copy(file, r)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return written, fmt.Errorf("write %q: %w", path, err)
	}
	return written, nil
}

// DirSize returns the total size of regular files under root. A missing
// root counts as zero.
func DirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil && info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// RemoveIfExists deletes path, ignoring the not-exist case.
func RemoveIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SanitizeFilename replaces characters unsafe for filenames and collapses
// whitespace, returning fallback when nothing printable remains.
func SanitizeFilename(name, fallback string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", "*", "", "?", "",
		"\"", "", "<", "", ">", "", "|", "-", "\x00", "",
	)
	cleaned := replacer.Replace(name)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	cleaned = strings.Trim(cleaned, ". ")
	if cleaned == "" {
		return fallback
	}
	const maxLen = 180
	if len(cleaned) > maxLen {
		cleaned = strings.TrimSpace(cleaned[:maxLen])
	}
	return cleaned
}
