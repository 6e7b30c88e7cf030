// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package artifact

import "golang.org/x/sys/unix"

// freeBytes reports the bytes available to unprivileged writers on
// the filesystem holding path.
func freeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return uint64(stat.Bavail) * uint64(stat.Bsize), nil
}
