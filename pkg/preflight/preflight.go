// Package preflight validates the mirror roots before the first pass. The
// checks are stateless except for CheckReplicaWritable, which performs a real
// write probe; everything here is meant to fail fast with a clear message
// instead of letting the first pass die halfway through.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/replisync/replisync/pkg/util"
)

// CheckSourceAccessible validates that the source path exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source path %s is not a directory", srcPath)
	}
	return nil
}

// CheckReplicaAccessible ensures the replica target is usable before the
// engine starts creating it. It gives friendlier errors than letting
// os.MkdirAll fail. With requireMount set it additionally refuses "ghost"
// directories on Unix that sit on the root filesystem where an external
// drive should be mounted.
func CheckReplicaAccessible(replicaPath string, requireMount bool) error {
	if err := checkVolumeExists(replicaPath); err != nil {
		return err
	}

	info, err := os.Stat(replicaPath)
	if os.IsNotExist(err) {
		// The replica will be created on the first pass; validate the deepest
		// existing ancestor instead.
		ancestor := replicaPath
		for {
			parent := filepath.Dir(ancestor)
			if parent == ancestor {
				break
			}
			ancestor = parent
			if _, err := os.Stat(ancestor); err == nil {
				break
			}
		}
		if requireMount {
			return platformValidateMountPoint(ancestor)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("cannot access replica path: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("replica path exists but is not a directory: %s", replicaPath)
	}
	if requireMount {
		return platformValidateMountPoint(replicaPath)
	}
	return nil
}

// CheckReplicaWritable ensures the replica directory can be created and is
// writable by creating and deleting a probe file.
func CheckReplicaWritable(replicaPath string) error {
	if err := os.MkdirAll(replicaPath, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create replica directory %s: %w", replicaPath, err)
	}
	probe := filepath.Join(replicaPath, ".replisync-writetest.tmp")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("replica directory %s is not writable: %w", replicaPath, err)
	}
	f.Close()
	_ = os.Remove(probe)
	return nil
}

// CheckRootOverlap rejects root pairs where mirroring would recurse into
// itself: identical roots, a replica inside the source, or a source inside
// the replica. Comparison is on resolved absolute paths, case-folded on
// hosts with case-insensitive filesystems.
func CheckRootOverlap(srcPath, replicaPath string) error {
	src, err := canonicalPath(srcPath)
	if err != nil {
		return err
	}
	rep, err := canonicalPath(replicaPath)
	if err != nil {
		return err
	}

	cmpSrc, cmpRep := src, rep
	if util.IsHostCaseInsensitiveFS() {
		cmpSrc = strings.ToLower(cmpSrc)
		cmpRep = strings.ToLower(cmpRep)
	}

	if cmpSrc == cmpRep {
		return fmt.Errorf("source and replica are the same directory: %s", src)
	}
	if isSubPath(cmpSrc, cmpRep) {
		return fmt.Errorf("replica %s is inside source %s", rep, src)
	}
	if isSubPath(cmpRep, cmpSrc) {
		return fmt.Errorf("source %s is inside replica %s", src, rep)
	}
	return nil
}

// canonicalPath resolves a path to its absolute, symlink-free form. A path
// that does not exist yet is resolved as far as possible.
func canonicalPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %s: %w", p, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return filepath.Clean(abs), nil
}

// isSubPath reports whether child lies strictly inside parent.
func isSubPath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
