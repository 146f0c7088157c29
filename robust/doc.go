// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package robust implements cross-process synchronization primitives that
// survive the crash of a lock holder: a futex-backed mutex that recovers
// when its owning process has died, a condition variable built on top of
// it, and a Waiter that composes the two with a quit flag for orderly
// shutdown of blocked producers/consumers.
//
// Every type here is a *view* over caller-owned shared memory: callers
// allocate the backing bytes (typically via shm.Object) and pass a pointer
// into that region to New; the types place no requirements on ownership or
// lifetime beyond "the memory outlives the view".
package robust
