//go:build !windows

package preflight

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// checkVolumeExists is a no-op on Unix; volume checks are a Windows concept.
func checkVolumeExists(string) error { return nil }

// platformValidateMountPoint checks if the path resides on the root
// filesystem. A replica path that was supposed to live on an external drive
// but sits on the system disk means the drive is not mounted and the mirror
// would fill a ghost directory.
func platformValidateMountPoint(path string) error {
	// Replicas under the home directory are usually intentional.
	homeDir, _ := os.UserHomeDir()
	if homeDir != "" && strings.HasPrefix(path, homeDir) {
		return nil
	}

	rootInfo, err := os.Stat("/")
	if err != nil {
		return fmt.Errorf("failed to stat root: %w", err)
	}
	rootStat, ok := rootInfo.Sys().(*unix.Stat_t)
	if !ok {
		return fmt.Errorf("unsupported platform for unix.Stat_t")
	}

	pathInfo, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat replica path: %w", err)
	}
	pathStat, ok := pathInfo.Sys().(*unix.Stat_t)
	if !ok {
		return fmt.Errorf("unsupported platform for unix.Stat_t")
	}

	if pathStat.Dev == rootStat.Dev && path != "/" {
		return fmt.Errorf("path '%s' is on the root filesystem (system disk). "+
			"Ensure your external drive is mounted", path)
	}
	return nil
}
