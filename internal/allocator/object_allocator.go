// Copyright 2015 Aleksandr Demakin. All rights reserved.

// Package allocator provides the unsafe pointer-arithmetic primitives used
// to place protocol headers and slot payloads directly inside a mapped
// shared-memory region, without an intermediate copy.
package allocator

import (
	"reflect"
	"runtime"
	"unsafe"
)

// ByteSliceData returns a pointer to the data of the given byte slice.
func ByteSliceData(slice []byte) unsafe.Pointer {
	if len(slice) == 0 {
		return nil
	}
	return unsafe.Pointer(&slice[0])
}

// ByteSliceFromUnsafePointer returns a slice of bytes with given length and
// capacity backed by the memory pointed to by p.
func ByteSliceFromUnsafePointer(p unsafe.Pointer, length, capacity int) []byte {
	return unsafe.Slice((*byte)(p), capacity)[:length:capacity]
}

// AdvancePointer adds shift bytes to p.
func AdvancePointer(p unsafe.Pointer, shift uintptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p) + shift)
}

// PointerAt reinterprets the memory at p as *T. The caller is responsible
// for ensuring p is suitably aligned and that the underlying region outlives
// the returned pointer.
func PointerAt[T any](p unsafe.Pointer) *T {
	return (*T)(p)
}

// SizeOf is a typed convenience wrapper over unsafe.Sizeof for a zero value
// of T, used when computing shared-memory layouts.
func SizeOf[T any]() uintptr {
	var v T
	return reflect.TypeOf(v).Size()
}

// KeepAlive ensures p is not garbage collected (and, for memory owned by a
// finalizer-bearing handle, not finalized) before the call site returns.
// Replaces the teacher's assembly-backed Use trick with the standard
// runtime.KeepAlive.
func KeepAlive(p unsafe.Pointer) {
	runtime.KeepAlive(p)
}
