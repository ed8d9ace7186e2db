//go:build windows

package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// checkVolumeExists verifies that the drive or network share root for a given
// path exists. For "Z:\replica" it checks "Z:\", ensuring the target volume
// is actually available before the mirror writes anything.
func checkVolumeExists(path string) error {
	volume := filepath.VolumeName(path)
	if volume == "" {
		return nil
	}

	checkVol := volume
	if !strings.HasSuffix(checkVol, string(filepath.Separator)) {
		checkVol += string(filepath.Separator)
	}
	checkVol = filepath.Clean(checkVol)

	if _, err := os.Stat(checkVol); os.IsNotExist(err) {
		return fmt.Errorf("volume root does not exist: %s. Ensure the drive is connected", checkVol)
	}
	return nil
}

// platformValidateMountPoint on Windows defers to the volume check; there is
// no root-filesystem ghost directory equivalent.
func platformValidateMountPoint(path string) error {
	return checkVolumeExists(path)
}
