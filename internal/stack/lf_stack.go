// Copyright 2017 Aleksandr Demakin. All rights reserved.

// Package stack implements a lock-free freelist of fixed-size, fixed-count
// shared-memory slots, used by pool.LargeMsgPool to hand out and reclaim
// large-message chunks within one size class without ever taking a lock.
package stack

import (
	"sync/atomic"
	"unsafe"

	"github.com/shmbus/shmbus/internal/allocator"
)

// Nil is the sentinel "no slot" index.
const Nil uint16 = 0xFFFF

// head packs a free-slot index with a generation counter into one 32-bit
// word so both can be exchanged atomically: the generation makes a CAS
// that raced ahead and came back to the same index (ABA) visible as a
// different word.
type head struct {
	idx uint16
	ver uint16
}

func packHead(h head) uint32 {
	return uint32(h.idx) | uint32(h.ver)<<16
}

func unpackHead(w uint32) head {
	return head{idx: uint16(w), ver: uint16(w >> 16)}
}

// node is the layout written into the first bytes of every free slot: the
// index of the next free slot, or Nil.
type node struct {
	next uint16
}

// LfStack is a lock-free stack of slot indices in [0, cap), threaded
// through the free slots' own storage the way an intrusive free list is in
// C. HeaderSize bytes at the front of raw hold the stack's own state; the
// slot array lives at a separate, caller-supplied address and is owned by
// the caller (this
// type only ever writes the first 2 bytes of a slot while it's free).
type LfStack struct {
	headWord *uint32
	cap      *int32
	base     unsafe.Pointer
	stride   uintptr
}

// HeaderSize is the number of bytes LfStack's own state occupies.
const HeaderSize = 8

// New initializes a fresh, full-to-empty stack over cap slots of stride
// bytes each, located at slots (typically immediately after the
// HeaderSize-byte control block New expects raw to point at). All cap
// slots start pushed, in index order, so Pop initially returns 0, 1, 2....
func New(raw unsafe.Pointer, slots unsafe.Pointer, cap int32, stride uintptr) *LfStack {
	s := &LfStack{
		headWord: allocator.PointerAt[uint32](raw),
		cap:      allocator.PointerAt[int32](allocator.AdvancePointer(raw, 4)),
		base:     slots,
		stride:   stride,
	}
	atomic.StoreInt32(s.cap, cap)
	for i := int32(0); i < cap; i++ {
		next := uint16(i + 1)
		if i == cap-1 {
			next = Nil
		}
		s.nodeAt(uint16(i)).next = next
	}
	atomic.StoreUint32(s.headWord, packHead(head{idx: 0, ver: 0}))
	if cap == 0 {
		atomic.StoreUint32(s.headWord, packHead(head{idx: Nil, ver: 0}))
	}
	return s
}

// Open attaches to an existing stack at raw/slots without reinitializing it.
func Open(raw unsafe.Pointer, slots unsafe.Pointer, stride uintptr) *LfStack {
	return &LfStack{
		headWord: allocator.PointerAt[uint32](raw),
		cap:      allocator.PointerAt[int32](allocator.AdvancePointer(raw, 4)),
		base:     slots,
		stride:   stride,
	}
}

// Cap returns the number of slots the stack was created with.
func (s *LfStack) Cap() int32 { return atomic.LoadInt32(s.cap) }

func (s *LfStack) nodeAt(idx uint16) *node {
	return allocator.PointerAt[node](allocator.AdvancePointer(s.base, uintptr(idx)*s.stride))
}

// Push returns slot idx to the freelist.
func (s *LfStack) Push(idx uint16) {
	for {
		old := unpackHead(atomic.LoadUint32(s.headWord))
		s.nodeAt(idx).next = old.idx
		next := head{idx: idx, ver: old.ver + 1}
		if atomic.CompareAndSwapUint32(s.headWord, packHead(old), packHead(next)) {
			return
		}
	}
}

// Pop removes and returns a free slot index, or (Nil, false) if empty.
func (s *LfStack) Pop() (uint16, bool) {
	for {
		old := unpackHead(atomic.LoadUint32(s.headWord))
		if old.idx == Nil {
			return Nil, false
		}
		next := head{idx: s.nodeAt(old.idx).next, ver: old.ver + 1}
		if atomic.CompareAndSwapUint32(s.headWord, packHead(old), packHead(next)) {
			return old.idx, true
		}
	}
}
