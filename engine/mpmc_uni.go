// Copyright 2016 Aleksandr Demakin. All rights reserved.

package engine

import "github.com/shmbus/shmbus/ring"

// mpmcUnicast implements multi-producer/multi-consumer competitive
// unicast: both Head and Tail are contended via CAS. Each slot's epoch
// records which trip around the ring owns it: a producer may not write
// trip T's slot until it reads epoch == T, and a consumer may not trust
// a claimed slot's payload until it reads commit != 0 with epoch == T
// too, which tells a freshly produced slot from a stale one left over
// from a prior wrap. The consumer clears commit and advances the epoch to
// T+1 only after finishing its copy, which is what lets the next producer
// in, and leaves commit at 0 until that producer publishes: without
// that handshake, a producer a full wrap ahead could overwrite a slot a
// consumer has claimed (advanced Tail past) but not yet read.
type mpmcUnicast struct{}

func (mpmcUnicast) TryPush(r *ring.Ring, payload []byte) (bool, error) {
	for {
		head := r.Head()
		idx := int(head & r.IndexMask())
		trip := uint32(head / r.Cap())
		if r.SlotEpoch(idx) != trip {
			return false, nil
		}
		if !r.CASHead(head, head+1) {
			continue
		}
		r.StoreSlotCommit(idx, 0)
		n := copy(r.SlotPayload(idx), payload)
		r.StoreSlotLength(idx, uint32(n))
		r.StoreSlotCommit(idx, 1)
		return true, nil
	}
}

func (mpmcUnicast) TryPop(r *ring.Ring, _ *Cursor, dst []byte) (int, bool, error) {
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
		spinUntilCommitted(func() bool {
			return r.SlotCommit(idx) != 0 && r.SlotEpoch(idx) == wantEpoch
		})
		n := int(r.SlotLength(idx))
		copy(dst, r.SlotPayload(idx)[:n])
		r.StoreSlotCommit(idx, 0)
		r.StoreSlotEpoch(idx, wantEpoch+1)
		return n, true, nil
	}
}
