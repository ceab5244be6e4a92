package security

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects empty paths and paths that climb out of their directory
func ValidateFilePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("file path contains NUL byte")
	}

	for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", p)
		}
	}
	return nil
}

// ResolveWithin maps a slash-separated request path onto baseDir and
// guarantees the result stays inside baseDir.
func ResolveWithin(baseDir, requestPath string) (string, error) {
	if strings.ContainsRune(requestPath, 0) {
		return "", fmt.Errorf("request path contains NUL byte")
	}

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolve base directory: %w", err)
	}

	// path.Clean on a rooted path removes every leading ..
	cleaned := path.Clean("/" + strings.ReplaceAll(requestPath, "\\", "/"))
	full := filepath.Join(base, filepath.FromSlash(cleaned))

	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", requestPath)
	}
	return full, nil
}
