package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriteDebugDump saves body under dir for offline inspection and returns the file path.
// Errors wrap ErrFilesystem.
func WriteDebugDump(dir, label, rawURL string, body []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create debug dir %s: %w", ErrFilesystem, dir, err)
	}
	path := filepath.Join(dir, DebugDumpName(label, rawURL, "html", time.Now()))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("%w: write debug dump %s: %w", ErrFilesystem, path, err)
	}
	return path, nil
}
