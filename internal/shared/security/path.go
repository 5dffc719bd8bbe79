// Package security guards filesystem access by file-backed stores.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrPathEscape is returned when a path would land outside its root.
	ErrPathEscape = errors.New("path escapes base directory")
	// ErrUnsafeName is returned for names that cannot be a single file name.
	ErrUnsafeName = errors.New("unsafe file name")
)

// CheckName accepts name only if it is one plain path element: not empty,
// not "." or "..", and free of separators and NUL bytes.
func CheckName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return nil
}

// ResolveWithin returns the absolute path of elems joined under base, or
// ErrPathEscape if the cleaned result is not inside base.
func ResolveWithin(base string, elems ...string) (string, error) {
	if base == "" {
		return "", errors.New("base directory is required")
	}
	root, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolve base path: %w", err)
	}

	target := filepath.Join(append([]string{root}, elems...)...)
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", fmt.Errorf("relativize path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, target)
	}
	return target, nil
}

// FileIn resolves a single file named name+ext inside dir.
func FileIn(dir, name, ext string) (string, error) {
	if err := CheckName(name); err != nil {
		return "", err
	}
	return ResolveWithin(dir, name+ext)
}
