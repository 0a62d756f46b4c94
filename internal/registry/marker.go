package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MarkerPath returns the marker file path for a task directory.
func MarkerPath(taskDir string) string {
	return filepath.Join(taskDir, ".claude", MarkerFileName)
}

// ReadMarker reads and parses a marker file. A missing file returns
// (nil, nil) — "no marker here" is not an error. A present-but-corrupt
// file returns a non-nil error: per spec §7, marker corruption is
// "surfaced loudly, not auto-repaired" — the caller must not silently
// treat it as absent.
func ReadMarker(taskDir string) (*Marker, error) {
	path := MarkerPath(taskDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read marker %s: %w", path, err)
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("marker %s is corrupt: %w", path, err)
	}
	return &m, nil
}

// WriteMarker atomically writes m to taskDir's marker file, creating the
// .claude directory if needed.
func WriteMarker(taskDir string, m *Marker) error {
	path := MarkerPath(taskDir)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create marker dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp marker: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp marker: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename marker: %w", err)
	}
	return nil
}

// RemoveMarker deletes a task directory's marker file, if present (used by
// session-flavor cleanup).
func RemoveMarker(taskDir string) error {
	err := os.Remove(MarkerPath(taskDir))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
