package security

import (
	"errors"
	"path/filepath"
	"strings"
)

// Path validation errors.
var (
	ErrPathEmpty       = errors.New("path cannot be empty")
	ErrPathTraversal   = errors.New("path contains a traversal sequence")
	ErrPathNullByte    = errors.New("path contains a null byte")
	ErrPathOutsideBase = errors.New("path escapes the base directory")
	ErrBaseNotAbsolute = errors.New("base directory must be absolute")
)

// ValidatePath resolves path against baseDir and returns the absolute
// result, rejecting anything that escapes the base.
//
// The unresolved input is checked for raw ".." sequences and null bytes
// before any resolution happens; a resolved-but-suspicious path that would
// clean to something inside the base on one platform may not on another,
// so the raw check closes that gap.
func ValidatePath(path, baseDir string) (string, error) {
	if path == "" {
		return "", ErrPathEmpty
	}
	if strings.ContainsRune(path, 0) {
		return "", ErrPathNullByte
	}
	if containsTraversal(path) {
		return "", ErrPathTraversal
	}
	if !filepath.IsAbs(baseDir) {
		return "", ErrBaseNotAbsolute
	}

	base := filepath.Clean(baseDir)
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(base, abs)
	}
	abs = filepath.Clean(abs)

	// Containment: the resolved path must still be prefixed by the resolved
	// base. The separator suffix prevents /app/data2 matching /app/data.
	if abs != base && !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return "", ErrPathOutsideBase
	}
	return abs, nil
}

// containsTraversal reports whether any path element of the raw input is
// "..", on either separator convention.
func containsTraversal(path string) bool {
	for _, part := range strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	}) {
		if part == ".." {
			return true
		}
	}
	return false
}
