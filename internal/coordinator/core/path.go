package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// FindFiles returns the regular files under root matching any of the
// doublestar patterns, sorted and without duplicates. Patterns are relative
// to root.
func FindFiles(root string, patterns ...string) ([]string, error) {
	fsys := os.DirFS(root)
	seen := make(map[string]struct{})
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		for _, name := range matches {
			path := filepath.Join(root, filepath.FromSlash(name))
			info, err := os.Lstat(path)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if _, ok := seen[path]; ok {
				continue
			}
			seen[path] = struct{}{}
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, nil
}

// ChunkDir returns the directory a chunk upload is extracted into.
func ChunkDir(workDir, jobID, executorID, chunkID string) string {
	return filepath.Join(workDir, jobID, executorID, chunkID)
}

// ErrInvalidID is returned for ids that cannot be used as a single path
// segment.
var ErrInvalidID = errors.New("invalid id")

// CheckID reports whether id is safe to use as one element of ChunkDir.
// The empty id is allowed since filepath.Join drops it.
func CheckID(id string) error {
	if id == "" {
		return nil
	}
	if id == "." || id == ".." || filepath.Base(id) != id || filepath.IsAbs(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
