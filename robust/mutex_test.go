// Copyright 2016 Aleksandr Demakin. All rights reserved.

package robust

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/shmbus/shmbus"
)

func newTestMutex() *Mutex {
	mem := make([]byte, MutexSize)
	m := NewMutex(unsafe.Pointer(&mem[0]))
	m.Init()
	return m
}

func TestMutexLockUnlock(t *testing.T) {
	m := newTestMutex()
	require.NoError(t, m.Lock())
	require.NoError(t, m.Unlock())
}

func TestMutexUnlockNotOwner(t *testing.T) {
	m := newTestMutex()
	require.NoError(t, m.Lock())
	done := make(chan error, 1)
	go func() { done <- m.Unlock() }()
	// Unlock from another goroutine still carries this process's pid, so it
	// actually succeeds; NotOwner only fires across different processes.
	// Exercise the check directly by forging a foreign owner instead.
	<-done
	m.Init()
	*m.owner = 424242
	err := m.Unlock()
	require.Error(t, err)
	var sErr *shmbus.Error
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, shmbus.NotOwner, sErr.Kind)
}

func TestMutexTryLockContended(t *testing.T) {
	m := newTestMutex()
	require.NoError(t, m.Lock())

	ok, err := m.TryLock()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Unlock())
	ok, err = m.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMutexTryLockForTimesOut(t *testing.T) {
	m := newTestMutex()
	require.NoError(t, m.Lock())

	start := time.Now()
	ok, err := m.TryLockFor(30 * time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestMutexConcurrentMutualExclusion(t *testing.T) {
	m := newTestMutex()
	var counter int64
	var wg sync.WaitGroup
	const goroutines, iterations = 8, 200
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				require.NoError(t, m.Lock())
				counter++
				require.NoError(t, m.Unlock())
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, goroutines*iterations, counter)
}

func TestMutexRecoversFromDeadOwner(t *testing.T) {
	m := newTestMutex()
	require.NoError(t, m.Lock())
	// Simulate the owning process having died: forge a pid that cannot be
	// alive, leaving the lock word stuck as locked.
	atomic.StoreInt32(m.owner, 1<<30)

	ok, err := m.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, m.Generation())
	require.NoError(t, m.Unlock())
}
