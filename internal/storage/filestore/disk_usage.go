//go:build linux || darwin || freebsd

package filestore

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskUsage возвращает ёмкость ФС, на которой расположен path.
// Возвращает total, used, available в байтах.
func DiskUsage(path string) (total, used, available int64, err error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, 0, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}

	total = int64(stat.Blocks) * int64(stat.Bsize)
	available = int64(stat.Bavail) * int64(stat.Bsize)
	used = total - available

	return total, used, available, nil
}
