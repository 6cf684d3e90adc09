package instrument

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	plist "howett.net/plist"
)

const (
	payloadDirName = "Payload"
	bundleSuffix   = ".app"
	infoPlistName  = "Info.plist"
	hookedSuffix   = ".hooked"
	musselName     = "mussel"
)

type bundleInfo struct {
	CFBundleExecutable string `plist:"CFBundleExecutable"`
}

// FindBundle returns the path of the first .app bundle inside root's
// Payload directory. Entries are considered in lexicographic order
// (os.ReadDir sorts by name), which keeps the choice deterministic when an
// archive carries several bundles. ok is false when the Payload directory
// or a bundle is missing; both are benign conditions, not errors.
func FindBundle(root string) (string, bool) {
	payload := filepath.Join(root, payloadDirName)
	entries, err := os.ReadDir(payload)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), bundleSuffix) {
			return filepath.Join(payload, entry.Name()), true
		}
	}
	return "", false
}

// BundleExecutable reads CFBundleExecutable from the bundle's Info.plist.
// ok is false when the field is absent or fails sanitization; err is
// non-nil only when the plist itself cannot be read or parsed.
func BundleExecutable(bundle string) (string, bool, error) {
	data, err := os.ReadFile(filepath.Join(bundle, infoPlistName))
	if err != nil {
		return "", false, fmt.Errorf("%w: read %s: %v", ErrMetadataIO, infoPlistName, err)
	}
	var info bundleInfo
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return "", false, fmt.Errorf("%w: parse %s: %v", ErrMetadataIO, infoPlistName, err)
	}
	name, ok := sanitizeExecutable(info.CFBundleExecutable)
	return name, ok, nil
}

// sanitizeExecutable rejects executable names that could redirect file
// operations outside the bundle directory: empty names, the literals "."
// and "..", anything containing a path separator and anything containing
// the substring "..". A name is used for filesystem writes only after it
// passes all four checks.
func sanitizeExecutable(name string) (string, bool) {
	if name == "" || name == "." || name == ".." {
		return "", false
	}
	if strings.ContainsAny(name, `/\`) {
		return "", false
	}
	if strings.Contains(name, "..") {
		return "", false
	}
	return name, true
}
