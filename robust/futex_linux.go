// Copyright 2016 Aleksandr Demakin. All rights reserved.

//go:build linux

package robust

import (
	"math"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/shmbus/shmbus/internal/allocator"
	"github.com/shmbus/shmbus/internal/common"
)

const (
	futexWaitOp = 0
	futexWakeOp = 1

	futexWakeAll = int32(math.MaxInt32)
)

// futexWait blocks while *addr == expected, or returns immediately if it
// doesn't. A negative timeout waits forever.
func futexWait(addr *int32, expected int32, timeout time.Duration) error {
	ts := common.TimeoutToTimeSpec(timeout)
	ptr := unsafe.Pointer(addr)
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(ptr),
		uintptr(futexWaitOp),
		uintptr(uint32(expected)),
		uintptr(unsafe.Pointer(ts)),
		0, 0)
	allocator.KeepAlive(ptr)
	if errno != 0 {
		return os.NewSyscallError("FUTEX_WAIT", errno)
	}
	return nil
}

// futexWake wakes up to count waiters blocked on addr.
func futexWake(addr *int32, count int32) (int, error) {
	ptr := unsafe.Pointer(addr)
	n, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(ptr),
		uintptr(futexWakeOp),
		uintptr(uint32(count)),
		0, 0, 0)
	allocator.KeepAlive(ptr)
	if errno != 0 {
		return 0, os.NewSyscallError("FUTEX_WAKE", errno)
	}
	return int(n), nil
}
