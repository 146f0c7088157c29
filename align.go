// Copyright 2015 Aleksandr Demakin. All rights reserved.

package shmbus

import "errors"

var (
	errNotPowerOfTwo = errors.New("slot count must be a power of two")
	errReceiverLimit = errors.New("max receivers out of range")
	errBadInlineSize = errors.New("inline size must be positive")
	errBadLargeLimit = errors.New("large limit must not be negative")
)

// maxNativeAlign is the alignment guaranteed by the platform's widest
// commonly used scalar (a 64-bit word on every target this library runs on).
const maxNativeAlign = 8

// nativeAlign returns min(size, maxNativeAlign) rounded to a power of two,
// matching the documented default for Config.AlignSize.
func nativeAlign(size int) int {
	if size >= maxNativeAlign {
		return maxNativeAlign
	}
	align := 1
	for align*2 <= size {
		align *= 2
	}
	return align
}

// AlignUp rounds size up to the next multiple of align, which must be a
// power of two.
func AlignUp(size, align int) int {
	if align <= 1 {
		return size
	}
	return (size + align - 1) &^ (align - 1)
}

// IsPowerOfTwo reports whether v is a power of two.
func IsPowerOfTwo(v int) bool {
	return v > 0 && v&(v-1) == 0
}
