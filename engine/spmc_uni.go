// Copyright 2016 Aleksandr Demakin. All rights reserved.

package engine

import "github.com/shmbus/shmbus/ring"

// spmcUnicast implements single-producer/multi-consumer competitive
// unicast: the one producer owns Head exclusively, like spsc, but
// consumers race each other for Tail via CAS and must not trust a won
// slot is readable until they observe its commit flag.
//
// A slot's epoch doubles as its reclaim token: trip T's consumer must
// finish copying the payload before trip T+1's producer may reuse the
// slot, so the consumer only stamps epoch T+1 after the copy, and the
// producer gates its write on seeing epoch T already there. Advancing
// Tail via CAS before the copy would otherwise let a producer a full
// wrap ahead overwrite a slot a consumer has claimed but not yet read.
type spmcUnicast struct{}

func (spmcUnicast) TryPush(r *ring.Ring, payload []byte) (bool, error) {
	head := r.Head()
	idx := int(head & r.IndexMask())
	trip := uint32(head / r.Cap())
	if r.SlotEpoch(idx) != trip {
		// A consumer somewhere between tail and head still owes a finished
		// read of this slot from its previous trip around the ring.
		return false, nil
	}
	r.StoreSlotCommit(idx, 0)
	n := copy(r.SlotPayload(idx), payload)
	r.StoreSlotLength(idx, uint32(n))
	r.StoreSlotCommit(idx, 1)
	r.StoreHead(head + 1)
	return true, nil
}

func (spmcUnicast) TryPop(r *ring.Ring, _ *Cursor, dst []byte) (int, bool, error) {
	for {
		tail := r.Tail()
		if tail >= r.Head() {
			return 0, false, nil
		}
		if !r.CASTail(tail, tail+1) {
			continue
		}
		idx := int(tail & r.IndexMask())
		wantEpoch := uint32(tail / r.Cap())
		spinUntilCommitted(func() bool { return r.SlotCommit(idx) != 0 })
		n := int(r.SlotLength(idx))
		copy(dst, r.SlotPayload(idx)[:n])
		// Only now is it safe to let the producer reuse idx for its next
		// trip around the ring.
		r.StoreSlotEpoch(idx, wantEpoch+1)
		return n, true, nil
	}
}
