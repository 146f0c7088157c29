// Copyright 2015 Aleksandr Demakin. All rights reserved.

// Package shm implements named, reference-counted shared-memory objects.
//
// An Object wraps an OS shared-memory region and a small header living at
// its front: a refcount, the region's payload size, and a version stamp.
// Acquire opens-or-creates the region and bumps the refcount; Release drops
// it and, on the last holder, unlinks the OS object. ClearStorage zeroes the
// payload area and bumps the header's version stamp, used when a channel is
// rebuilt in place.
package shm
