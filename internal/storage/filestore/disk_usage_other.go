//go:build !(linux || darwin || freebsd)

package filestore

import "errors"

// DiskUsage на этой платформе не поддерживается.
func DiskUsage(_ string) (total, used, available int64, err error) {
	return 0, 0, 0, errors.New("statfs не поддерживается на этой платформе")
}
