package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Permission constants for file and directory modes.
const (
	// PermUserWrite is the user-write permission bit (0200).
	PermUserWrite os.FileMode = 0200

	// UserWritableDirPerms represents the standard permissions for newly created directories (rwxr-xr-x).
	UserWritableDirPerms os.FileMode = 0755
	// UserWritableFilePerms represents the standard permissions for newly created files (rw-r--r--).
	UserWritableFilePerms os.FileMode = 0644
)

// WithUserWritePermission ensures that any directory/file permission has the owner-write
// bit (0200) set. This prevents the mirror process from being locked out of its own
// replica on subsequent passes when the source carries read-only permissions.
func WithUserWritePermission(basePerm os.FileMode) os.FileMode {
	return basePerm | PermUserWrite
}

// IsHostCaseInsensitiveFS checks if the current operating system (the "host") has a
// case-insensitive filesystem by default.
func IsHostCaseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// NormalizePath converts an OS-specific path into the canonical forward-slash
// key format used throughout the engine. Keys are comparison keys, never
// handed to the filesystem directly.
func NormalizePath(p string) string {
	return filepath.ToSlash(p)
}

// DenormalizedAbsPath joins a normalized relative key onto a root, producing
// an OS-native absolute path suitable for filesystem access.
func DenormalizedAbsPath(root, relPathKey string) string {
	return filepath.Join(root, filepath.FromSlash(relPathKey))
}

// PathDepth returns the number of segments in a normalized relative key.
// "a" has depth 1, "a/b" depth 2. The root key "." has depth 0.
func PathDepth(relPathKey string) int {
	if relPathKey == "" || relPathKey == "." {
		return 0
	}
	return strings.Count(relPathKey, "/") + 1
}

// ExpandPath expands the tilde (~) prefix in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil // No tilde, return as-is.
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}

	// Replace the tilde with the home directory.
	return filepath.Join(home, path[1:]), nil
}

// InvertMap takes a map[K]V and returns a map[V]K.
// It's a generic helper for creating reverse lookup maps for enums.
func InvertMap[K comparable, V comparable](m map[K]V) map[V]K {
	inv := make(map[V]K, len(m))
	for k, v := range m {
		inv[v] = k
	}
	return inv
}

// ByteCountIEC renders a byte count in human readable IEC units (KiB, MiB, ...).
func ByteCountIEC(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
