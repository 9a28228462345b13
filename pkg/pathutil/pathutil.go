// Package pathutil holds the path checks used to keep worldkeeper's own files
// out of the mirrored world directory.
package pathutil

import (
	"path/filepath"
	"strings"
)

// Within reports whether p is parent or lies below it. Both paths are cleaned
// first; neither is resolved against the filesystem.
func Within(parent, p string) bool {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Overlaps reports whether one path equals or contains the other.
func Overlaps(a, b string) bool {
	return Within(a, b) || Within(b, a)
}

// IsFilesystemRoot reports whether path is / or a Windows volume root.
func IsFilesystemRoot(path string) bool {
	clean := filepath.Clean(path)
	if clean == string(filepath.Separator) {
		return true
	}
	volume := filepath.VolumeName(clean)
	return volume != "" && clean == volume+string(filepath.Separator)
}
