// Copyright 2016 Aleksandr Demakin. All rights reserved.

package ring

import (
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/shmbus/shmbus"
	"github.com/shmbus/shmbus/internal/allocator"
)

// Ring is a view over a CircularArray's control block and slot array. It
// carries no lifetime of its own; the memory it points into is owned by
// whatever shm.Object or pool region backs it.
type Ring struct {
	hdr  *Header
	base unsafe.Pointer // first byte of slot 0
}

// Size returns the number of bytes a CircularArray needs for cap slots of
// dataSize bytes, aligned to alignSize, including the header.
func Size(cap, dataSize, alignSize int) int {
	return HeaderSize + cap*stride(dataSize, alignSize)
}

func stride(dataSize, alignSize int) int {
	return slotHeaderSize + shmbus.AlignUp(dataSize, alignSize)
}

// New initializes a fresh CircularArray at mem, which must point to at
// least Size(cap, dataSize, alignSize) bytes. Call exactly once, from
// whichever process created the backing region. cap must be a power of two.
func New(mem unsafe.Pointer, cap, dataSize, alignSize int) (*Ring, error) {
	if !shmbus.IsPowerOfTwo(cap) {
		return nil, shmbus.NewError("ring.New", shmbus.SizeMismatch, errors.New("capacity must be a power of two"))
	}
	hdr := allocator.PointerAt[Header](mem)
	hdr.head.store(0)
	hdr.tail.store(0)
	hdr.connectedMask.store(0)
	atomic.StoreUint32(&hdr.cap, uint32(cap))
	atomic.StoreUint32(&hdr.dataSize, uint32(dataSize))
	atomic.StoreUint32(&hdr.alignSize, uint32(alignSize))
	atomic.StoreUint32(&hdr.slotStride, uint32(stride(dataSize, alignSize)))
	r := &Ring{hdr: hdr, base: allocator.AdvancePointer(mem, HeaderSize)}
	for i := 0; i < cap; i++ {
		h := r.slotHeaderAt(i)
		atomic.StoreUint32(&h.commit, 0)
		atomic.StoreUint32(&h.mask, 0)
		atomic.StoreUint32(&h.id, 0)
	}
	return r, nil
}

// Open attaches to an existing CircularArray at mem. The caller is
// responsible for verifying dataSize/alignSize/cap match what it expects
// before trusting the ring (Queue does this via its name-encoded size).
func Open(mem unsafe.Pointer) *Ring {
	hdr := allocator.PointerAt[Header](mem)
	return &Ring{hdr: hdr, base: allocator.AdvancePointer(mem, HeaderSize)}
}

// Cap returns the slot count, a power of two.
func (r *Ring) Cap() uint64 { return uint64(atomic.LoadUint32(&r.hdr.cap)) }

// IndexMask returns Cap()-1, used to mask a monotonic cursor into a slot index.
func (r *Ring) IndexMask() uint64 { return r.Cap() - 1 }

// DataSize returns the inline payload capacity of one slot.
func (r *Ring) DataSize() int { return int(atomic.LoadUint32(&r.hdr.dataSize)) }

// AlignSize returns the slot payload's alignment.
func (r *Ring) AlignSize() int { return int(atomic.LoadUint32(&r.hdr.alignSize)) }

func (r *Ring) stride() int { return int(atomic.LoadUint32(&r.hdr.slotStride)) }

// Head returns the current producer cursor (acquire-ordered via atomic load).
func (r *Ring) Head() uint64 { return uint64(r.hdr.head.load()) }

// CASHead attempts to advance the producer cursor from old to new.
func (r *Ring) CASHead(old, new uint64) bool { return r.hdr.head.cas(int64(old), int64(new)) }

// StoreHead publishes a new producer cursor (release-ordered).
func (r *Ring) StoreHead(v uint64) { r.hdr.head.store(int64(v)) }

// Tail returns the current consumer cursor (unicast variants only).
func (r *Ring) Tail() uint64 { return uint64(r.hdr.tail.load()) }

// CASTail attempts to advance the consumer cursor from old to new.
func (r *Ring) CASTail(old, new uint64) bool { return r.hdr.tail.cas(int64(old), int64(new)) }

// StoreTail publishes a new consumer cursor.
func (r *Ring) StoreTail(v uint64) { r.hdr.tail.store(int64(v)) }

// ConnectedMask returns the current live-receiver bitmask.
func (r *Ring) ConnectedMask() uint32 { return uint32(r.hdr.connectedMask.load()) }

// CASConnectedMask attempts to update the live-receiver bitmask.
func (r *Ring) CASConnectedMask(old, new uint32) bool {
	return r.hdr.connectedMask.cas(int64(old), int64(new))
}

// slotHeaderAt returns the header of the slot at physical index i (already masked).
func (r *Ring) slotHeaderAt(i int) *slotHeader {
	off := uintptr(i) * uintptr(r.stride())
	return allocator.PointerAt[slotHeader](allocator.AdvancePointer(r.base, off))
}

// SlotCommit loads a slot's commit flag (the "safe to read" bit).
func (r *Ring) SlotCommit(i int) uint32 { return atomic.LoadUint32(&r.slotHeaderAt(i).commit) }

// StoreSlotCommit sets a slot's commit flag with release semantics.
func (r *Ring) StoreSlotCommit(i int, v uint32) { atomic.StoreUint32(&r.slotHeaderAt(i).commit, v) }

// SlotMask loads a slot's outstanding-readers mask (broadcast variants).
func (r *Ring) SlotMask(i int) uint32 { return atomic.LoadUint32(&r.slotHeaderAt(i).mask) }

// StoreSlotMask sets a slot's outstanding-readers mask.
func (r *Ring) StoreSlotMask(i int, v uint32) { atomic.StoreUint32(&r.slotHeaderAt(i).mask, v) }

// CASSlotMask attempts to clear bits from a slot's outstanding-readers mask.
func (r *Ring) CASSlotMask(i int, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(&r.slotHeaderAt(i).mask, old, new)
}

// SlotEpoch loads a slot's wrap epoch: the competitive-unicast variants use
// it both as a reclaim token gating the next trip's producer and, for MPMC,
// as the signal that lets a consumer tell a freshly produced slot from a
// stale one left over from a prior wrap.
func (r *Ring) SlotEpoch(i int) uint32 { return atomic.LoadUint32(&r.slotHeaderAt(i).id) }

// StoreSlotEpoch sets a slot's wrap epoch.
func (r *Ring) StoreSlotEpoch(i int, v uint32) { atomic.StoreUint32(&r.slotHeaderAt(i).id, v) }

// SlotLength loads the number of valid payload bytes in a slot.
func (r *Ring) SlotLength(i int) uint32 { return atomic.LoadUint32(&r.slotHeaderAt(i).length) }

// StoreSlotLength sets the number of valid payload bytes in a slot.
func (r *Ring) StoreSlotLength(i int, v uint32) { atomic.StoreUint32(&r.slotHeaderAt(i).length, v) }

// SlotPayload returns the payload bytes of the slot at physical index i.
func (r *Ring) SlotPayload(i int) []byte {
	off := uintptr(i)*uintptr(r.stride()) + slotHeaderSize
	return allocator.ByteSliceFromUnsafePointer(allocator.AdvancePointer(r.base, off), r.DataSize(), r.DataSize())
}
