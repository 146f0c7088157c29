// Copyright 2016 Aleksandr Demakin. All rights reserved.

package robust

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/shmbus/shmbus"
	"github.com/shmbus/shmbus/internal/allocator"
)

// WaiterSize is the number of bytes a Waiter occupies in shared memory.
const WaiterSize = MutexSize + CondVarSize + 4

// Waiter composes a Mutex, a CondVar, and an atomic quit flag: the shape
// every blocking push/pop fallback in this library uses once its spin
// budget is exhausted. It is the shared-memory analog of a condition
// variable guarding a predicate, plus a shutdown signal every waiter can
// observe without a direct handle to the thing that's shutting down.
type Waiter struct {
	m    *Mutex
	c    *CondVar
	quit *int32
}

// NewWaiter returns a view of the Waiter living at mem, which must point to
// at least WaiterSize bytes.
func NewWaiter(mem unsafe.Pointer) *Waiter {
	return &Waiter{
		m:    NewMutex(mem),
		c:    NewCondVar(allocator.AdvancePointer(mem, MutexSize)),
		quit: allocator.PointerAt[int32](allocator.AdvancePointer(mem, MutexSize+CondVarSize)),
	}
}

// Init resets the waiter to its initial, non-quitting state. Call exactly
// once, from whichever process created the backing region.
func (w *Waiter) Init() {
	w.m.Init()
	w.c.Init()
	atomic.StoreInt32(w.quit, 0)
}

// Mutex returns the waiter's embedded mutex, for callers that need to hold
// it across a check-then-wait sequence themselves.
func (w *Waiter) Mutex() *Mutex {
	return w.m
}

// Wait blocks until pred returns true or Quit is called, retesting pred
// after every wakeup. It returns false if it woke because of Quit.
func (w *Waiter) Wait(pred func() bool) (bool, error) {
	return w.wait(pred, -1)
}

// WaitFor behaves like Wait but gives up after timeout, returning
// shmbus.TimedOut if neither pred nor quit became true in time.
func (w *Waiter) WaitFor(pred func() bool, timeout time.Duration) (bool, error) {
	return w.wait(pred, timeout)
}

func (w *Waiter) wait(pred func() bool, timeout time.Duration) (bool, error) {
	if err := w.m.Lock(); err != nil {
		return false, err
	}
	defer w.m.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	// pred is evaluated once per wakeup and its result kept: callers pass
	// predicates with side effects (a successful TryPush consumes a slot).
	satisfied := false
	for !w.quitting() {
		if satisfied = pred(); satisfied {
			break
		}
		remaining := timeout
		if timeout > 0 {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return false, shmbus.NewError("robust.Waiter.Wait", shmbus.TimedOut, nil)
			}
		}
		err := w.c.WaitFor(w.m, remaining)
		if err != nil && errKind(err) != shmbus.TimedOut {
			return false, err
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			if w.quitting() {
				break
			}
			if satisfied = pred(); !satisfied {
				return false, shmbus.NewError("robust.Waiter.Wait", shmbus.TimedOut, nil)
			}
			break
		}
	}
	return satisfied, nil
}

func (w *Waiter) quitting() bool {
	return atomic.LoadInt32(w.quit) != 0
}

// Notify wakes at most one waiter blocked on Wait.
func (w *Waiter) Notify() {
	w.c.Notify()
}

// Broadcast wakes every waiter blocked on Wait.
func (w *Waiter) Broadcast() {
	w.c.Broadcast()
}

// Quit raises the quit flag under the waiter's mutex and wakes everyone,
// guaranteeing every blocked Wait call observes it and returns false.
func (w *Waiter) Quit() error {
	if err := w.m.Lock(); err != nil {
		return err
	}
	atomic.StoreInt32(w.quit, 1)
	w.m.Unlock()
	w.c.Broadcast()
	return nil
}
