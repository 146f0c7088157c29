// Copyright 2015 Aleksandr Demakin. All rights reserved.

package shm

import (
	"os"
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/shmbus/shmbus"
	"github.com/shmbus/shmbus/internal/allocator"
)

// header occupies the first headerSize bytes of every Object's region:
// a cross-process refcount, the negotiated payload size, a version stamp
// bumped whenever the payload is reinitialized by ClearStorage, and a
// ready flag the creator stores last, so the payload always starts
// word4-aligned.
const headerSize = 32 // refcount, size, version, ready

// spinUntilReady busy-waits for the creating process to finish stamping
// size/version/refcount, yielding the thread periodically so a preempted
// creator on the same core gets to run.
func spinUntilReady(ready *int64) {
	for i := 0; atomic.LoadInt64(ready) == 0; i++ {
		if i&255 == 255 {
			runtime.Gosched()
		}
	}
}

// Object is a named, reference-counted shared-memory region. Multiple
// processes Acquire the same name concurrently; the region's OS-level
// object is unlinked only once the last holder Releases it.
type Object struct {
	name    string
	backend *backend
	payload []byte

	refcount *int64
	size     *int64
	version  *int64
	ready    *int64

	created  bool
	released bool
}

// Acquire opens or creates the named region per mode, sized to hold
// payloadSize bytes of usable storage beyond the object's header. If the
// region already exists, its recorded payload size must match payloadSize
// or Acquire fails with a shmbus.SizeMismatch error.
func Acquire(name string, mode shmbus.OpenMode, payloadSize int, perm os.FileMode) (*Object, error) {
	if payloadSize < 0 {
		return nil, shmbus.NewError("shm.Acquire", shmbus.SizeMismatch, errors.New("negative payload size"))
	}
	total := headerSize + payloadSize
	b, created, err := openBackend(name, mode, total, perm)
	if err != nil {
		return nil, shmbus.NewError("shm.Acquire", shmbus.ShmUnavailable, err)
	}
	data := b.bytes()
	base := allocator.ByteSliceData(data)
	o := &Object{
		name:     name,
		backend:  b,
		refcount: allocator.PointerAt[int64](base),
		size:     allocator.PointerAt[int64](allocator.AdvancePointer(base, 8)),
		version:  allocator.PointerAt[int64](allocator.AdvancePointer(base, 16)),
		ready:    allocator.PointerAt[int64](allocator.AdvancePointer(base, 24)),
	}
	o.created = created
	if created {
		atomic.StoreInt64(o.size, int64(payloadSize))
		atomic.StoreInt64(o.version, 1)
		atomic.StoreInt64(o.refcount, 1)
		atomic.StoreInt64(o.ready, 1)
	} else {
		// The creator zero-fills the region via Truncate before stamping
		// size/version/refcount; without waiting for ready, an attacher
		// racing that window would read a size of 0 and fail spuriously.
		spinUntilReady(o.ready)
		existing := atomic.LoadInt64(o.size)
		if existing != int64(payloadSize) {
			b.close()
			return nil, shmbus.NewError("shm.Acquire", shmbus.SizeMismatch,
				errors.Errorf("object %q has size %d, want %d", name, existing, payloadSize))
		}
		atomic.AddInt64(o.refcount, 1)
	}
	o.payload = data[headerSize : headerSize+payloadSize]
	allocator.KeepAlive(base)
	return o, nil
}

// Bytes returns the usable payload region, excluding the header.
func (o *Object) Bytes() []byte {
	return o.payload
}

// Name returns the name the object was acquired under.
func (o *Object) Name() string {
	return o.name
}

// Created reports whether this call to Acquire created the backing OS
// object, as opposed to attaching to one that already existed. Callers use
// this to decide whether their own layout on top of the payload needs
// initializing or can just be attached to.
func (o *Object) Created() bool {
	return o.created
}

// Version returns the current generation stamp, bumped by ClearStorage.
func (o *Object) Version() int64 {
	return atomic.LoadInt64(o.version)
}

// Refcount returns the number of holders across all processes, as of the
// last observation. Racy by nature; intended for diagnostics only.
func (o *Object) Refcount() int64 {
	return atomic.LoadInt64(o.refcount)
}

// ClearStorage zeroes the payload region and bumps Version. Callers must
// hold a mutex excluding concurrent readers/writers of the payload; it does
// not itself synchronize with other holders.
func (o *Object) ClearStorage() {
	for i := range o.payload {
		o.payload[i] = 0
	}
	atomic.AddInt64(o.version, 1)
}

// Destroy implements shmbus.Destroyer: it is equivalent to Release.
func (o *Object) Destroy() error {
	return o.Release()
}

// Release drops this holder's reference. Once the refcount reaches zero the
// underlying OS object is unlinked; in all cases this process's mapping is
// unmapped and closed.
func (o *Object) Release() error {
	if o.released {
		return nil
	}
	o.released = true
	remaining := atomic.AddInt64(o.refcount, -1)
	var unlinkErr error
	if remaining <= 0 {
		unlinkErr = o.backend.unlink()
	}
	closeErr := o.backend.close()
	if unlinkErr != nil {
		return shmbus.NewError("shm.Release", shmbus.ShmUnavailable, unlinkErr)
	}
	if closeErr != nil {
		return shmbus.NewError("shm.Release", shmbus.ShmUnavailable, closeErr)
	}
	return nil
}

// Unlink removes name's OS object without requiring it to be mapped,
// useful for cleaning up after a crashed process left it behind.
func Unlink(name string) error {
	if err := destroyByName(name); err != nil {
		return shmbus.NewError("shm.Unlink", shmbus.ShmUnavailable, err)
	}
	return nil
}
