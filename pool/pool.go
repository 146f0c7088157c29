// Copyright 2016 Aleksandr Demakin. All rights reserved.

package pool

import (
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/shmbus/shmbus"
	"github.com/shmbus/shmbus/internal/allocator"
	"github.com/shmbus/shmbus/internal/stack"
	"github.com/shmbus/shmbus/robust"
)

// header is the fixed-size control block at the front of a pool's region.
type header struct {
	numClasses    uint32
	largeAlign    uint32
	cachePerClass uint32
	_pad          uint32
}

const headerSize = 16

// class is a view over one size class's freelist, refcounts, and chunk
// storage, all carved out of the pool's single backing region.
type class struct {
	size     int
	st       *stack.LfStack
	refcount []int32        // len == cachePerClass, indexed by stack slot index
	chunks   unsafe.Pointer // base of cachePerClass chunks of size bytes each
}

func (c *class) chunkBytes(slot int) []byte {
	return allocator.ByteSliceFromUnsafePointer(allocator.AdvancePointer(c.chunks, uintptr(slot*c.size)), c.size, c.size)
}

// Pool is LargeMsgPool: a fixed set of size classes, each a lock-free
// freelist of fixed-size chunks, plus a Waiter that blocking Acquire calls
// park on when their class is momentarily exhausted.
type Pool struct {
	hdr     *header
	classes []class
	waiter  *robust.Waiter
}

// Size returns the number of bytes a Pool needs for numClasses size
// classes, class i holding chunks of largeAlign*2^i bytes. Per-class cache
// count halves with each class (floor at 1) so the pool's total footprint
// doesn't blow up for the largest classes: a fixed cachePerClass chunks of
// every size class would otherwise dominate the region's size.
func Size(numClasses, cachePerClass, largeAlign int) int {
	total := headerSize + robust.WaiterSize
	for i := 0; i < numClasses; i++ {
		total += classByteSize(i, cachePerClass, largeAlign)
	}
	return total
}

func chunkSizeForClass(i, largeAlign int) int {
	return largeAlign << i
}

func cacheForClass(i, cachePerClass int) int {
	n := cachePerClass >> i
	if n < 1 {
		n = 1
	}
	return n
}

func classByteSize(i, cachePerClass, largeAlign int) int {
	chunkSize := chunkSizeForClass(i, largeAlign)
	cache := cacheForClass(i, cachePerClass)
	return stack.HeaderSize + cache*4 + cache*chunkSize
}

func buildClasses(mem unsafe.Pointer, numClasses, cachePerClass, largeAlign int, create bool) []class {
	classes := make([]class, numClasses)
	cursor := mem
	for i := 0; i < numClasses; i++ {
		chunkSize := chunkSizeForClass(i, largeAlign)
		cache := cacheForClass(i, cachePerClass)
		stHdr := cursor
		refBytes := allocator.AdvancePointer(cursor, stack.HeaderSize)
		chunks := allocator.AdvancePointer(refBytes, uintptr(cache*4))

		var st *stack.LfStack
		if create {
			st = stack.New(stHdr, chunks, int32(cache), uintptr(chunkSize))
		} else {
			st = stack.Open(stHdr, chunks, uintptr(chunkSize))
		}
		classes[i] = class{
			size:     chunkSize,
			st:       st,
			refcount: unsafe.Slice(allocator.PointerAt[int32](refBytes), cache),
			chunks:   chunks,
		}
		cursor = allocator.AdvancePointer(cursor, uintptr(classByteSize(i, cachePerClass, largeAlign)))
	}
	return classes
}

// New initializes a fresh Pool at mem. Call exactly once, from whichever
// process created the backing region.
func New(mem unsafe.Pointer, numClasses, cachePerClass, largeAlign int) *Pool {
	hdr := allocator.PointerAt[header](mem)
	atomic.StoreUint32(&hdr.numClasses, uint32(numClasses))
	atomic.StoreUint32(&hdr.largeAlign, uint32(largeAlign))
	atomic.StoreUint32(&hdr.cachePerClass, uint32(cachePerClass))

	waiter := robust.NewWaiter(allocator.AdvancePointer(mem, headerSize))
	waiter.Init()

	classesMem := allocator.AdvancePointer(mem, headerSize+robust.WaiterSize)
	return &Pool{
		hdr:     hdr,
		waiter:  waiter,
		classes: buildClasses(classesMem, numClasses, cachePerClass, largeAlign, true),
	}
}

// Open attaches to an existing Pool at mem.
func Open(mem unsafe.Pointer) *Pool {
	hdr := allocator.PointerAt[header](mem)
	numClasses := int(atomic.LoadUint32(&hdr.numClasses))
	cachePerClass := int(atomic.LoadUint32(&hdr.cachePerClass))
	largeAlign := int(atomic.LoadUint32(&hdr.largeAlign))

	waiter := robust.NewWaiter(allocator.AdvancePointer(mem, headerSize))
	classesMem := allocator.AdvancePointer(mem, headerSize+robust.WaiterSize)
	return &Pool{
		hdr:     hdr,
		waiter:  waiter,
		classes: buildClasses(classesMem, numClasses, cachePerClass, largeAlign, false),
	}
}

// MaxSize returns the largest payload Acquire can serve.
func (p *Pool) MaxSize() int {
	if len(p.classes) == 0 {
		return 0
	}
	return p.classes[len(p.classes)-1].size
}

func (p *Pool) classFor(size int) (int, error) {
	for i := range p.classes {
		if size <= p.classes[i].size {
			return i, nil
		}
	}
	return 0, shmbus.NewError("pool.classFor", shmbus.PayloadTooLarge,
		errors.Errorf("payload of %d bytes exceeds max pool class size %d", size, p.MaxSize()))
}

// packID packs a class index and slot index into the opaque handle
// transport carries in a slot's payload for the large-pool path.
func packID(classIdx, slot int) uint32 {
	return uint32(classIdx)<<16 | uint32(uint16(slot))
}

func unpackID(id uint32) (classIdx, slot int) {
	return int(id >> 16), int(uint16(id))
}

// TryAcquire makes one non-blocking attempt to get a chunk able to hold
// size bytes, initializing its refcount from popcount(readersMask).
func (p *Pool) TryAcquire(size int, readersMask uint32) (id uint32, buf []byte, ok bool, err error) {
	classIdx, err := p.classFor(size)
	if err != nil {
		return 0, nil, false, err
	}
	slot, got := p.classes[classIdx].st.Pop()
	if !got {
		return 0, nil, false, nil
	}
	refs := popcount(readersMask)
	if refs == 0 {
		refs = 1
	}
	atomic.StoreInt32(&p.classes[classIdx].refcount[slot], int32(refs))
	return packID(classIdx, int(slot)), p.classes[classIdx].chunkBytes(int(slot))[:size], true, nil
}

// Acquire blocks until a chunk able to hold size bytes is available.
func (p *Pool) Acquire(size int, readersMask uint32) (uint32, []byte, error) {
	if _, err := p.classFor(size); err != nil {
		return 0, nil, err
	}
	var id uint32
	var buf []byte
	var acquireErr error
	ok, err := p.waiter.Wait(func() bool {
		var got bool
		id, buf, got, acquireErr = p.TryAcquire(size, readersMask)
		return got
	})
	if err != nil {
		return 0, nil, err
	}
	if acquireErr != nil {
		return 0, nil, acquireErr
	}
	if !ok {
		return 0, nil, shmbus.NewError("pool.Acquire", shmbus.Shutdown, nil)
	}
	return id, buf, nil
}

// Fetch returns a shared view of id's chunk without touching its refcount.
func (p *Pool) Fetch(id uint32) ([]byte, error) {
	classIdx, slot := unpackID(id)
	if classIdx < 0 || classIdx >= len(p.classes) {
		return nil, shmbus.NewError("pool.Fetch", shmbus.SizeMismatch, errors.New("class index out of range"))
	}
	return p.classes[classIdx].chunkBytes(slot), nil
}

// Release drops one reference to id's chunk, returning it to its size
// class's freelist once the last reference is dropped.
func (p *Pool) Release(id uint32) error {
	classIdx, slot := unpackID(id)
	if classIdx < 0 || classIdx >= len(p.classes) {
		return shmbus.NewError("pool.Release", shmbus.SizeMismatch, errors.New("class index out of range"))
	}
	c := &p.classes[classIdx]
	if atomic.AddInt32(&c.refcount[slot], -1) == 0 {
		c.st.Push(uint16(slot))
		p.waiter.Broadcast()
	}
	return nil
}

func popcount(mask uint32) int {
	n := 0
	for mask != 0 {
		n += int(mask & 1)
		mask >>= 1
	}
	return n
}
