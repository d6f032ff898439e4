package storage

import (
	"os"
	"path/filepath"

	"github.com/hupe1980/ndstore/internal/fs"
)

// CleanupTemp removes temporary files left under dir by interrupted writes.
// Subdirectories are visited recursively. The removed paths are returned.
func CleanupTemp(fsys fs.FileSystem, dir string) ([]string, error) {
	var removed []string
	err := walkTemp(fsys, dir, func(path string) error {
		if err := fsys.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		removed = append(removed, path)
		return nil
	})
	return removed, err
}

func walkTemp(fsys fs.FileSystem, dir string, fn func(path string) error) error {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if err := walkTemp(fsys, path, fn); err != nil {
				return err
			}
			continue
		}
		if fs.IsTempName(e.Name()) {
			if err := fn(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func dirOf(path string) string {
	return filepath.Dir(path)
}
