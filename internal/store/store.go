// Package store provides atomic JSON persistence for the small set of files
// the bridge keeps on disk: configuration, the task registry, message-state,
// and per-task markers. Every writer in this package follows the same
// write-temp-then-rename discipline so a crash mid-write never leaves a
// torn file behind.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and unmarshals the JSON file at path into v. A missing file is
// not an error: v is left at its zero value. A present-but-corrupt file
// returns an error — callers that need to distinguish "never existed" from
// "exists but unreadable" should check os.IsNotExist themselves before
// calling Load, or use Exists.
func Load(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Exists reports whether path exists on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ModTime returns the file's modification time, or the zero time if it
// doesn't exist.
func ModTime(path string) (modTime int64, ok bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return fi.ModTime().UnixNano(), true
}

// Save marshals v as indented JSON and writes it to path atomically: the
// data lands in a temp file in the same directory, then an os.Rename
// publishes it. Parent directories are created as needed.
func Save(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s to %s: %w", tmpPath, path, err)
	}
	return nil
}
