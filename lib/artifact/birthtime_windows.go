// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"io/fs"
	"syscall"
	"time"
)

// creationTime returns the NTFS creation time, which the installer
// builder on a Windows host stamps when it writes the package.
func creationTime(_ string, info fs.FileInfo) time.Time {
	if data, ok := info.Sys().(*syscall.Win32FileAttributeData); ok {
		return time.Unix(0, data.CreationTime.Nanoseconds())
	}
	return info.ModTime()
}
