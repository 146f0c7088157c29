// Copyright 2016 Aleksandr Demakin. All rights reserved.

package ring

import "sync/atomic"

// cacheLine pads a single 8-byte atomic cell out to 64 bytes so that the
// head cursor, tail cursor, and connected-mask word each own a
// cache line: false-sharing between producers hammering head and consumers
// hammering tail would otherwise serialize two logically independent CAS
// loops on the same cache line.
type cacheLine struct {
	v    int64
	_pad [56]byte
}

func (c *cacheLine) load() int64 { return atomic.LoadInt64(&c.v) }
func (c *cacheLine) store(v int64) { atomic.StoreInt64(&c.v, v) }
func (c *cacheLine) add(delta int64) int64 { return atomic.AddInt64(&c.v, delta) }
func (c *cacheLine) cas(old, new int64) bool {
	return atomic.CompareAndSwapInt64(&c.v, old, new)
}

// Header is the fixed-size control block at the front of a CircularArray's
// shared-memory region, immediately followed by Cap slots of slotHeader +
// payload. Every field here is written exactly once at creation except the
// three cursors.
type Header struct {
	head          cacheLine
	tail          cacheLine // consumer cursor (unicast variants)
	connectedMask cacheLine // low 32 bits are the live ConnectionMask

	cap        uint32
	dataSize   uint32
	alignSize  uint32
	slotStride uint32
}

// HeaderSize is the number of bytes Header occupies.
const HeaderSize = 3*64 + 16

// slotHeader precedes every slot's payload bytes.
type slotHeader struct {
	commit uint32 // all variants but spsc: 1 once the payload is safe to read
	mask   uint32 // broadcast variants: remaining-readers bitmask
	id     uint32 // wrap epoch (competitive-unicast variants)
	length uint32 // bytes of payload actually in use, <= DataSize
}

// slotHeaderSize is the number of bytes slotHeader occupies.
const slotHeaderSize = 16
