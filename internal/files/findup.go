// Package files holds small filesystem helpers shared across the agent.
package files

import (
	"os"
	"path/filepath"
)

// FindUp walks from dir toward the filesystem root looking for a file with
// the given name, returning its full path or "" when no ancestor has it.
func FindUp(name, dir string) string {
	curDir := dir
	for {
		candidate := filepath.Join(curDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(curDir)
		if parent == curDir {
			return ""
		}
		curDir = parent
	}
}
