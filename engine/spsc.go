// Copyright 2016 Aleksandr Demakin. All rights reserved.

package engine

import "github.com/shmbus/shmbus/ring"

// spsc implements the single-producer/single-consumer unicast protocol:
// the producer owns Head exclusively, the consumer owns Tail exclusively,
// so slot claims need no CAS at all, only the release/acquire pair on the
// cursors themselves.
type spsc struct{}

func (spsc) TryPush(r *ring.Ring, payload []byte) (bool, error) {
	head := r.Head()
	if head-r.Tail() >= r.Cap() {
		return false, nil
	}
	idx := int(head & r.IndexMask())
	n := copy(r.SlotPayload(idx), payload)
	r.StoreSlotLength(idx, uint32(n))
	r.StoreHead(head + 1)
	return true, nil
}

func (spsc) TryPop(r *ring.Ring, _ *Cursor, dst []byte) (int, bool, error) {
	tail := r.Tail()
	if tail >= r.Head() {
		return 0, false, nil
	}
	idx := int(tail & r.IndexMask())
	n := int(r.SlotLength(idx))
	copy(dst, r.SlotPayload(idx)[:n])
	r.StoreTail(tail + 1)
	return n, true, nil
}
