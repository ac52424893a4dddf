package remote

import (
	"fmt"
	"strings"
)

// Join builds a path from segments, ignoring empty ones and stray slashes.
func Join(parts ...string) string {
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		segments = append(segments, Split(part)...)
	}
	return strings.Join(segments, "/")
}

// Split returns the non-empty segments of path.
func Split(path string) []string {
	raw := strings.Split(path, "/")
	out := raw[:0]
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Clean normalizes path to its canonical "a/b/c" form.
func Clean(path string) string {
	return strings.Join(Split(path), "/")
}

// IsAncestor reports whether ancestor is path itself or one of its parents.
func IsAncestor(ancestor, path string) bool {
	a, p := Clean(ancestor), Clean(path)
	if a == "" || a == p {
		return true
	}
	return strings.HasPrefix(p, a+"/")
}

// Overlaps reports whether a write at one path can change the value read at
// the other.
func Overlaps(a, b string) bool {
	return IsAncestor(a, b) || IsAncestor(b, a)
}

// ValidateKey rejects ids that would escape their level of the tree.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("remote: empty key")
	}
	if strings.ContainsAny(key, "/.#$[]") {
		return fmt.Errorf("remote: key %q contains a reserved character", key)
	}
	return nil
}
