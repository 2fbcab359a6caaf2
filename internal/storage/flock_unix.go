// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package storage

import "syscall"

func lockFD(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX)
}

func unlockFD(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
