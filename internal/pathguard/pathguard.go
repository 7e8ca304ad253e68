// Package pathguard normalizes and validates relative paths before they are
// allowed to touch the overlay filesystem or the disk beneath it.
package pathguard

import (
	"path"
	"regexp"
	"strings"
)

var driveQualified = regexp.MustCompile(`^[A-Za-z]:`)

// Normalize converts p to a forward-slash relative path and cleans it,
// without checking safety. Callers should call Safe afterward.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean(p)
}

// Safe reports whether p is non-empty, not absolute, not drive-qualified,
// and lexically stays inside root once joined to it.
func Safe(p, root string) bool {
	if p == "" {
		return false
	}
	if path.IsAbs(p) || driveQualified.MatchString(p) {
		return false
	}
	norm := Normalize(p)
	if norm == ".." || strings.HasPrefix(norm, "../") {
		return false
	}
	root = strings.TrimSuffix(Normalize(root), "/")
	joined := path.Join(root, norm)
	return joined == root || strings.HasPrefix(joined, root+"/")
}

// Allowed reports whether p is Safe and prefix-matches at least one entry
// of prefixes. A prefix of "." or "" matches everything. A prefix equal to
// p, or a slash-terminated prefix of p, also matches.
func Allowed(p string, prefixes []string, root string) bool {
	if !Safe(p, root) {
		return false
	}
	norm := Normalize(p)
	for _, prefix := range prefixes {
		if prefix == "." || prefix == "" {
			return true
		}
		if prefix == norm {
			return true
		}
		if strings.HasSuffix(prefix, "/") && strings.HasPrefix(norm, prefix) {
			return true
		}
		if !strings.HasSuffix(prefix, "/") && strings.HasPrefix(norm, prefix+"/") {
			return true
		}
	}
	return false
}
