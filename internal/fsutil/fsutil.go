// SPDX-License-Identifier: MIT

// Package fsutil holds filesystem helpers for the per-session working
// directory layout. The working directory is partitioned by session id; no
// two sessions ever share a path.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var safeSessionID = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// IsSafeSessionID reports whether id is safe to embed in a filesystem path.
// UUIDs always pass; anything with separators or dots does not.
func IsSafeSessionID(id string) bool {
	return id != "" && safeSessionID.MatchString(id)
}

// SessionDir returns the working directory for a session, creating it with
// its parents if necessary.
func SessionDir(root, sessionID string) (string, error) {
	if !IsSafeSessionID(sessionID) {
		return "", fmt.Errorf("unsafe session id: %q", sessionID)
	}
	dir := filepath.Join(root, "sessions", sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// EnsureDir creates dir with its parents if necessary.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
