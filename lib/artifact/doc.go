// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact finds the file a build produced and publishes it to
// a shared location.
//
// [Locate] scans candidate directories in priority order and returns
// the newest file with an expected extension. "Newest" means latest
// creation time: the file's birth time where the filesystem records it
// (statx STATX_BTIME on Linux), its modification time otherwise. Equal
// timestamps keep the first file seen; directories are scanned in the
// given order and entries in name order, so scan order is stable.
// Filesystems with coarse timestamps (FAT, some SMB mounts) can make
// unrelated files tie; the result is then the first in scan order, not
// necessarily the most recent build.
//
// [Distribute] copies a located artifact into a share under a
// versioned file name (see [VersionedName]) and verifies the copy by
// BLAKE3 digest.
package artifact
