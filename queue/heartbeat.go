// Copyright 2016 Aleksandr Demakin. All rights reserved.

package queue

import (
	"math/bits"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/shmbus/shmbus/internal/allocator"
)

// heartbeatsSize is the number of bytes the per-receiver liveness-epoch
// array occupies: one int64 per bit of the 32-wide ConnectionMask.
const heartbeatsSize = 32 * 8

// staleFactor is how many missed heartbeat intervals mark a receiver dead.
const staleFactor = 2

// DefaultHeartbeatInterval is a reasonable StartCleaner interval for most
// channels: frequent enough to reclaim a dead receiver's bit within tens of
// milliseconds, infrequent enough that the cleaner goroutine's own CAS
// traffic on ConnectionMask stays negligible next to real Push/Pop traffic.
const DefaultHeartbeatInterval = 5 * time.Millisecond

func heartbeatWordAt(base unsafe.Pointer, bit int) *int64 {
	return allocator.PointerAt[int64](allocator.AdvancePointer(base, uintptr(bit)*8))
}

// touchHeartbeat stamps this receiver's liveness word with the current
// wall-clock time in nanoseconds, so a cleaner elsewhere can tell it's
// still running.
func (q *Queue) touchHeartbeat() {
	if q.role != RoleReceiver {
		return
	}
	atomic.StoreInt64(heartbeatWordAt(q.heartbeats, bits.TrailingZeros32(q.bit)), time.Now().UnixNano())
}

// StartCleaner launches a goroutine that ticks every interval, refreshing
// this queue's own heartbeat (if it is a receiver) and reclaiming any
// connected bit whose heartbeat has gone stale for longer than
// staleFactor*interval: the dead-receiver path for a receiver that crashed
// without calling DisconnectReceiver. Returns a function that stops it.
func (q *Queue) StartCleaner(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				q.touchHeartbeat()
				q.reclaimStale(staleFactor * interval)
			}
		}
	}()
	var stopped int32
	return func() {
		if atomic.CompareAndSwapInt32(&stopped, 0, 1) {
			close(done)
		}
	}
}

func (q *Queue) reclaimStale(maxAge time.Duration) {
	mask := q.ring.ConnectedMask()
	now := time.Now().UnixNano()
	for bit := uint32(0); bit < 32; bit++ {
		cur := uint32(1) << bit
		if mask&cur == 0 {
			continue
		}
		last := atomic.LoadInt64(heartbeatWordAt(q.heartbeats, int(bit)))
		if last != 0 && time.Duration(now-last) <= maxAge {
			continue
		}
		q.reclaimBit(cur)
	}
}
