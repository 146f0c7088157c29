// Copyright 2016 Aleksandr Demakin. All rights reserved.

package engine

import "github.com/shmbus/shmbus/ring"

// broadcast implements both single- and multi-producer broadcast: every
// connected receiver sees every message. Each slot carries a snapshot of
// the connected-receiver mask taken at publish time; each receiver clears
// its own bit as it consumes the slot, and the slot is only eligible for
// reuse once the mask reaches zero.
type broadcast struct {
	multiProducer bool
}

func (b broadcast) TryPush(r *ring.Ring, payload []byte) (bool, error) {
	for {
		head := r.Head()
		idx := int(head & r.IndexMask())
		if r.SlotMask(idx) != 0 {
			// A receiver somewhere between its cursor and head still owes
			// a read of this slot from its previous trip around the ring.
			return false, nil
		}
		if b.multiProducer {
			if !r.CASHead(head, head+1) {
				continue
			}
		}
		mask := r.ConnectedMask()
		r.StoreSlotCommit(idx, 0)
		n := copy(r.SlotPayload(idx), payload)
		r.StoreSlotLength(idx, uint32(n))
		r.StoreSlotMask(idx, mask)
		r.StoreSlotCommit(idx, 1)
		if !b.multiProducer {
			r.StoreHead(head + 1)
		}
		return true, nil
	}
}

func (b broadcast) TryPop(r *ring.Ring, c *Cursor, dst []byte) (int, bool, error) {
	head := r.Head()
	if c.Pos >= head {
		return 0, false, nil
	}
	idx := int(c.Pos & r.IndexMask())
	spinUntilCommitted(func() bool { return r.SlotCommit(idx) != 0 })
	n := int(r.SlotLength(idx))
	copy(dst, r.SlotPayload(idx)[:n])
	clearBit(r, idx, c.Bit)
	c.Pos++
	return n, true, nil
}

func clearBit(r *ring.Ring, idx int, bit uint32) {
	for {
		old := r.SlotMask(idx)
		if old&bit == 0 {
			return
		}
		if r.CASSlotMask(idx, old, old&^bit) {
			return
		}
	}
}

// ClearReceiverBit clears bit from every slot between from (inclusive) and
// to (exclusive), the shared-memory half of disconnecting a broadcast
// receiver: it must stop owing reads for messages it will never pop.
func ClearReceiverBit(r *ring.Ring, from, to uint64, bit uint32) {
	for pos := from; pos != to; pos++ {
		clearBit(r, int(pos&r.IndexMask()), bit)
	}
}
