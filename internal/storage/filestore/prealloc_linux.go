//go:build linux

package filestore

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate резервирует size байт под файл, не меняя его видимый размер.
func preallocate(f *os.File, size int64) error {
	return unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_KEEP_SIZE, 0, size)
}
