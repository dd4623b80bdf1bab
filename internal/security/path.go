package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects empty paths and relative paths that climb out of the working directory
func ValidateFilePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("file path contains NUL byte")
	}

	if filepath.IsAbs(path) {
		return nil
	}

	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	return nil
}
