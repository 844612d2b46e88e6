package manifest

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the manifest file name searched for during discovery.
const FileName = "agentdep.yaml"

// Discover walks up from startDir looking for a manifest file.
// Returns the absolute manifest path, or an error if none is found before
// the filesystem root.
func Discover(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving start directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, FileName)
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found in %s or any parent directory", FileName, startDir)
		}
		dir = parent
	}
}
