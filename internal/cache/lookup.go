package cache

import (
	"fmt"
	"path/filepath"
	"strings"
)

var derivedSuffixes = []string{".snap", ".part", SidecarSuffix, "_setup.yml"}

// Cached returns the cached image file for label, if any. Snapshots,
// partial downloads, sidecars and conditioning playbooks are ignored.
func Cached(cacheDir, label string) (string, bool, error) {
	matches, err := filepath.Glob(filepath.Join(filepath.Clean(cacheDir), globEscape(label)+".*"))
	if err != nil {
		return "", false, fmt.Errorf("look up cached image %s: %w", label, err)
	}
	for _, match := range matches {
		base := filepath.Base(match)
		if strings.HasPrefix(base, ".") || hasDerivedSuffix(base) {
			continue
		}
		return match, true, nil
	}
	return "", false, nil
}

func hasDerivedSuffix(name string) bool {
	for _, suffix := range derivedSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
