// Package pathguard resolves caller-supplied relative paths against a
// project root and an allow-list of sub-roots. All path enforcement for tool
// arguments goes through Resolve; containment is decided by structural
// ancestor comparison, never by string-prefix matching.
package pathguard

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrAbsolute marks rejection of an absolute input path.
	ErrAbsolute = errors.New("absolute path rejected")

	// ErrTraversal marks a path that escapes the project root or every
	// allowed root.
	ErrTraversal = errors.New("traversal attempt blocked")
)

// Resolve validates raw against projectRoot and allowedRoots and returns the
// canonical absolute path.
//
// Order is fixed: reject absolute input, join under the project root,
// canonicalize following symlinks, require containment under the canonical
// project root, then under at least one allowed root. Allowed roots may be
// given relative to the project root.
func Resolve(raw, projectRoot string, allowedRoots []string) (string, error) {
	if filepath.IsAbs(raw) {
		return "", fmt.Errorf("%w: %q", ErrAbsolute, raw)
	}

	root, err := Canonicalize(projectRoot)
	if err != nil {
		return "", fmt.Errorf("%w: project root %q: %v", ErrTraversal, projectRoot, err)
	}

	resolved, err := Canonicalize(filepath.Join(root, raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrTraversal, raw)
	}

	if !within(resolved, root) {
		return "", fmt.Errorf("%w: %q", ErrTraversal, raw)
	}

	allowed := false
	for _, ar := range allowedRoots {
		if !filepath.IsAbs(ar) {
			ar = filepath.Join(root, ar)
		}
		canonical, err := Canonicalize(ar)
		if err != nil {
			continue
		}
		if within(resolved, canonical) {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("%w: %q not under any allowed root", ErrTraversal, raw)
	}

	return resolved, nil
}

// Canonicalize returns the absolute, symlink-resolved form of p. Components
// that do not exist yet (write targets) are appended lexically after the
// deepest existing ancestor has been resolved.
func Canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return resolveExisting(abs), nil
}

func resolveExisting(abs string) string {
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved
	}
	parent := filepath.Dir(abs)
	if parent == abs {
		return abs
	}
	return filepath.Join(resolveExisting(parent), filepath.Base(abs))
}

// within reports whether path is root or a descendant of root, comparing
// path components. A sibling directory sharing a name prefix with root is
// not within it.
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}
