// Package local implements the archive writer that persists records to
// rotating JSON-lines files and a CSV index on the local filesystem.
package local

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// ensureDir creates dir if needed and verifies it is a writable directory.
func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("output directory is required")
	}

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat output directory: %w", err)
		}
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("failed to create output directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return fmt.Errorf("output directory path is not a directory")
	}

	testFile := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("output directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return fmt.Errorf("failed to clean up test file: %w", err)
	}
	return nil
}

// fileStem turns a collection name into a lower-case, path-safe file prefix.
func fileStem(name string) string {
	stem := invalidFilenameChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	return strings.Trim(stem, "._")
}
