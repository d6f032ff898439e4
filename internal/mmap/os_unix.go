//go:build unix

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

func osMap(f *os.File, size int) ([]byte, func([]byte) error, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return data, unix.Munmap, nil
}

func osAdvise(b []byte, hint Hint) error {
	advice := unix.MADV_NORMAL
	switch hint {
	case HintSequential:
		advice = unix.MADV_SEQUENTIAL
	case HintWillNeed:
		advice = unix.MADV_WILLNEED
	}
	return unix.Madvise(b, advice)
}
