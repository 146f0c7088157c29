// Copyright 2016 Aleksandr Demakin. All rights reserved.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package common

import (
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// TimeoutToTimeSpec converts a relative duration into a *unix.Timespec
// suitable for futex-style syscalls, or nil for "wait forever".
func TimeoutToTimeSpec(timeout time.Duration) *unix.Timespec {
	if timeout >= 0 {
		ts := unix.NsecToTimespec(timeout.Nanoseconds())
		return &ts
	}
	return nil
}

// IsInterruptedSyscallErr reports whether err is EINTR.
func IsInterruptedSyscallErr(err error) bool {
	return SyscallErrHasCode(err, syscall.EINTR)
}

// IsTimeoutErr reports whether err is EAGAIN/ETIMEDOUT, the codes the futex
// family of syscalls use to signal a timed-out wait.
func IsTimeoutErr(err error) bool {
	return SyscallErrHasCode(err, syscall.EAGAIN) || SyscallErrHasCode(err, syscall.ETIMEDOUT)
}

// SyscallErrHasCode reports whether err wraps the given errno.
func SyscallErrHasCode(err error, code syscall.Errno) bool {
	if errno, ok := err.(syscall.Errno); ok {
		return errno == code
	}
	if sysErr, ok := err.(*os.SyscallError); ok {
		if errno, ok := sysErr.Err.(syscall.Errno); ok {
			return errno == code
		}
	}
	return false
}
