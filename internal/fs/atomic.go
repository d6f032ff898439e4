package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TempInfix marks temporary files created by WriteFileAtomic.
const TempInfix = ".tmp-"

// WriteFileAtomic replaces path with data so that readers observe either the
// previous file or the complete new one.
//
// The data is written to a hidden temporary file in the same directory,
// synced, closed and renamed over path. A failure at any step removes the
// temporary file and leaves path untouched. The directory sync after the
// rename is reported as a *DirSyncError: the new file is already in place
// when it occurs.
func WriteFileAtomic(fsys FileSystem, path string, data []byte, perm os.FileMode) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	f, err := fsys.CreateTemp(dir, "."+base+TempInfix+"*")
	if err != nil {
		return err
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		fsys.Remove(tmpPath)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fsys.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		fsys.Remove(tmpPath)
		return err
	}
	if perm != 0 {
		if c, ok := fsys.(chmodder); ok {
			_ = c.Chmod(tmpPath, perm)
		}
	}

	if err := fsys.Rename(tmpPath, path); err != nil {
		fsys.Remove(tmpPath)
		return err
	}

	if err := SyncDir(fsys, dir); err != nil {
		return &DirSyncError{Dir: dir, Err: err}
	}
	return nil
}

type chmodder interface {
	Chmod(name string, mode os.FileMode) error
}

// DirSyncError reports a failed directory sync after a successful rename.
type DirSyncError struct {
	Dir string
	Err error
}

func (e *DirSyncError) Error() string {
	return fmt.Sprintf("sync dir %s: %v", e.Dir, e.Err)
}

func (e *DirSyncError) Unwrap() error { return e.Err }

// IsTempName reports whether name was produced by WriteFileAtomic.
func IsTempName(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") && strings.Contains(base, TempInfix)
}
