package deploy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Staging persists replacement content under a configured directory so a
// cold restart of the target process picks up the same code. A nil *Staging
// is valid and stages nothing.
type Staging struct {
	dir string
}

// NewStaging roots a staging area at dir. The directory is created lazily on
// first write.
func NewStaging(dir string) *Staging {
	return &Staging{dir: dir}
}

// Dir is the staging root, or empty when staging is disabled.
func (s *Staging) Dir() string {
	if s == nil {
		return ""
	}
	return s.dir
}

// WriteBatch writes every (path, content) pair under the staging root,
// creating missing parent directories. The first failure stops the batch.
func (s *Staging) WriteBatch(batch map[string][]byte) error {
	if s == nil || s.dir == "" {
		return nil
	}
	for path, content := range batch {
		target, err := s.resolve(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("creating staging dir for %s: %w", path, err)
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return fmt.Errorf("staging %s: %w", path, err)
		}
	}
	return nil
}

// resolve maps a wire path to an absolute staging path, rejecting paths that
// would escape the root.
func (s *Staging) resolve(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("refusing to stage path %q outside staging root", path)
	}
	return filepath.Join(s.dir, cleaned), nil
}
