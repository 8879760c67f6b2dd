// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// creationTime returns the birth time from statx when the filesystem
// reports one, else the modification time.
func creationTime(path string, info fs.FileInfo) time.Time {
	var statx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME, &statx)
	if err != nil || statx.Mask&unix.STATX_BTIME == 0 {
		return info.ModTime()
	}
	return time.Unix(statx.Btime.Sec, int64(statx.Btime.Nsec))
}
