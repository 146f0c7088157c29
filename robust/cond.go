// Copyright 2016 Aleksandr Demakin. All rights reserved.

package robust

import (
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/shmbus/shmbus"
	"github.com/shmbus/shmbus/internal/allocator"
	"github.com/shmbus/shmbus/internal/common"
)

// CondVarSize is the number of bytes a CondVar occupies in shared memory.
const CondVarSize = 4

// CondVar is a futex-backed condition variable: waiters snapshot a sequence
// number before releasing the associated Mutex, then futex-wait on that
// same value; Notify/Broadcast bump the sequence and wake. The snapshot
// makes a notification that arrives between the snapshot and the wait a
// no-op to miss (the sequence will already have moved), not a lost wakeup.
type CondVar struct {
	seq *int32
}

// NewCondVar returns a view of the CondVar living at mem, which must point
// to at least CondVarSize bytes.
func NewCondVar(mem unsafe.Pointer) *CondVar {
	return &CondVar{seq: allocator.PointerAt[int32](mem)}
}

// Init resets the condvar's sequence counter. Call exactly once, from
// whichever process created the backing region.
func (c *CondVar) Init() {
	atomic.StoreInt32(c.seq, 0)
}

// Wait releases m, blocks until notified (spuriously or otherwise), and
// reacquires m before returning. Callers must retest their predicate.
func (c *CondVar) Wait(m *Mutex) error {
	return c.wait(m, -1)
}

// WaitFor behaves like Wait but gives up after timeout, still reacquiring m.
// It returns shmbus.TimedOut if the deadline elapsed without a notification.
func (c *CondVar) WaitFor(m *Mutex, timeout time.Duration) error {
	return c.wait(m, timeout)
}

func (c *CondVar) wait(m *Mutex, timeout time.Duration) error {
	seq := atomic.LoadInt32(c.seq)
	if err := m.Unlock(); err != nil {
		return err
	}
	waitErr := futexWait(c.seq, seq, timeout)
	lockErr := m.Lock()
	if waitErr != nil && !common.IsTimeoutErr(waitErr) && !common.IsInterruptedSyscallErr(waitErr) {
		return shmbus.NewError("robust.CondVar.Wait", shmbus.LockFailed, waitErr)
	}
	if lockErr != nil {
		return lockErr
	}
	// EAGAIN means seq had already moved: a notification, not a timeout.
	if common.SyscallErrHasCode(waitErr, syscall.ETIMEDOUT) {
		return shmbus.NewError("robust.CondVar.Wait", shmbus.TimedOut, nil)
	}
	return nil
}

// Notify wakes at most one waiter.
func (c *CondVar) Notify() {
	atomic.AddInt32(c.seq, 1)
	futexWake(c.seq, 1)
}

// Broadcast wakes every current waiter.
func (c *CondVar) Broadcast() {
	atomic.AddInt32(c.seq, 1)
	futexWake(c.seq, futexWakeAll)
}
