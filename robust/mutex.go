// Copyright 2016 Aleksandr Demakin. All rights reserved.

package robust

import (
	"os"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/shmbus/shmbus"
	"github.com/shmbus/shmbus/internal/allocator"
	"github.com/shmbus/shmbus/internal/common"
)

const (
	stateUnlocked          = int32(0)
	stateLockedNoWaiters   = int32(1)
	stateLockedHaveWaiters = int32(2)

	// maxRecoveries bounds how many times Lock will consistency-restore a
	// dead owner's slot before giving up with LockFailed.
	maxRecoveries = 16
)

// MutexSize is the number of bytes a Mutex occupies in shared memory.
const MutexSize = 16

var errTooManyRecoveries = errors.New("too many owner-dead recoveries")

// Mutex is a futex-backed mutex that recovers when its owner process has
// died, taking the place of a pthread robust mutex (Go has no portable
// binding to PTHREAD_MUTEX_ROBUST outside cgo). The lock word is not a
// single packed value but three adjacent words: a futex state used for
// blocking, the owning PID, and a generation counter bumped on every
// owner-dead recovery so stale observers can tell a recovery happened.
type Mutex struct {
	state *int32
	owner *int32
	gen   *int32
}

// NewMutex returns a view of the Mutex living at mem, which must point to
// at least MutexSize bytes. It does not initialize the memory; call Init
// exactly once, from whichever process created the backing region.
func NewMutex(mem unsafe.Pointer) *Mutex {
	return &Mutex{
		state: allocator.PointerAt[int32](mem),
		owner: allocator.PointerAt[int32](allocator.AdvancePointer(mem, 4)),
		gen:   allocator.PointerAt[int32](allocator.AdvancePointer(mem, 8)),
	}
}

// Init resets the mutex to its unlocked, generation-zero state. Must be
// called by exactly one process, before any other process attaches.
func (m *Mutex) Init() {
	atomic.StoreInt32(m.state, stateUnlocked)
	atomic.StoreInt32(m.owner, 0)
	atomic.StoreInt32(m.gen, 0)
}

// Generation returns the current recovery generation, bumped every time
// Lock has to consistency-restore a dead owner's slot.
func (m *Mutex) Generation() int32 {
	return atomic.LoadInt32(m.gen)
}

// Lock blocks until the mutex is acquired, recovering automatically if the
// current owner's process has died. It fails with LockFailed if more than
// maxRecoveries dead owners are encountered in a row.
func (m *Mutex) Lock() error {
	return m.lock(-1)
}

// TryLock makes one non-blocking attempt, performing owner-dead recovery
// inline if needed. It returns false (with a nil error) if the mutex is
// held by a live owner.
func (m *Mutex) TryLock() (bool, error) {
	err := m.lock(0)
	if err == nil {
		return true, nil
	}
	if errKind(err) == shmbus.TimedOut {
		return false, nil
	}
	return false, err
}

// TryLockFor blocks for at most timeout, returning false if it elapses
// without acquiring the mutex. Time spent recovering a dead owner does not
// count against the caller's budget beyond the wall-clock it actually took.
func (m *Mutex) TryLockFor(timeout time.Duration) (bool, error) {
	err := m.lock(timeout)
	if err == nil {
		return true, nil
	}
	if errKind(err) == shmbus.TimedOut {
		return false, nil
	}
	return false, err
}

// Unlock releases the mutex. It fails with NotOwner if the caller's process
// is not the current owner.
func (m *Mutex) Unlock() error {
	pid := int32(os.Getpid())
	if atomic.LoadInt32(m.owner) != pid {
		return shmbus.NewError("robust.Mutex.Unlock", shmbus.NotOwner, nil)
	}
	atomic.StoreInt32(m.owner, 0)
	if !atomic.CompareAndSwapInt32(m.state, stateLockedNoWaiters, stateUnlocked) {
		atomic.StoreInt32(m.state, stateUnlocked)
		if _, err := futexWake(m.state, 1); err != nil {
			return shmbus.NewError("robust.Mutex.Unlock", shmbus.LockFailed, err)
		}
	}
	return nil
}

func errKind(err error) shmbus.Kind {
	var sErr *shmbus.Error
	if errors.As(err, &sErr) {
		return sErr.Kind
	}
	return -1
}

// lock implements Lock/TryLock/TryLockFor. timeout < 0 waits forever,
// timeout == 0 makes a single non-blocking attempt.
func (m *Mutex) lock(timeout time.Duration) error {
	pid := int32(os.Getpid())
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	recoveries := 0
	for {
		if atomic.CompareAndSwapInt32(m.state, stateUnlocked, stateLockedNoWaiters) {
			atomic.StoreInt32(m.owner, pid)
			return nil
		}

		if ownerPID := atomic.LoadInt32(m.owner); ownerPID != 0 && !processAlive(ownerPID) {
			recoveries++
			if recoveries > maxRecoveries {
				return shmbus.NewError("robust.Mutex.Lock", shmbus.LockFailed, errTooManyRecoveries)
			}
			// consistency-restore: the dead owner never unlocked, so force
			// the word back to unlocked under a new generation and wake
			// anyone already parked on the old state.
			atomic.CompareAndSwapInt32(m.owner, ownerPID, 0)
			atomic.AddInt32(m.gen, 1)
			wasWaiters := atomic.SwapInt32(m.state, stateUnlocked) == stateLockedHaveWaiters
			if wasWaiters {
				futexWake(m.state, futexWakeAll)
			}
			continue
		}

		if timeout == 0 {
			return shmbus.NewError("robust.Mutex.Lock", shmbus.TimedOut, nil)
		}

		old := atomic.LoadInt32(m.state)
		if old != stateLockedHaveWaiters {
			old = atomic.SwapInt32(m.state, stateLockedHaveWaiters)
			if old == stateUnlocked {
				continue
			}
		}

		waitFor := time.Duration(-1)
		if timeout > 0 {
			waitFor = time.Until(deadline)
			if waitFor <= 0 {
				return shmbus.NewError("robust.Mutex.Lock", shmbus.TimedOut, nil)
			}
		}
		err := futexWait(m.state, stateLockedHaveWaiters, waitFor)
		if err != nil && !common.IsTimeoutErr(err) && !common.IsInterruptedSyscallErr(err) {
			return shmbus.NewError("robust.Mutex.Lock", shmbus.LockFailed, err)
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			return shmbus.NewError("robust.Mutex.Lock", shmbus.TimedOut, nil)
		}
	}
}

// processAlive reports whether pid names a live process, the liveness
// check the recovery path uses in place of kernel robust-mutex support.
func processAlive(pid int32) bool {
	err := syscall.Kill(int(pid), 0)
	if err == nil {
		return true
	}
	return err != syscall.ESRCH
}
