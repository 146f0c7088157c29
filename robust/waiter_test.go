// Copyright 2016 Aleksandr Demakin. All rights reserved.

package robust

import (
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newTestWaiter() *Waiter {
	mem := make([]byte, WaiterSize)
	w := NewWaiter(unsafe.Pointer(&mem[0]))
	w.Init()
	return w
}

func TestWaiterWaitUntilPredicate(t *testing.T) {
	w := newTestWaiter()
	var ready int32

	done := make(chan bool, 1)
	go func() {
		ok, err := w.Wait(func() bool { return atomic.LoadInt32(&ready) != 0 })
		require.NoError(t, err)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	atomic.StoreInt32(&ready, 1)
	w.Notify()

	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter never observed predicate")
	}
}

func TestWaiterQuitWakesEveryone(t *testing.T) {
	w := newTestWaiter()
	const n = 4
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		go func() {
			ok, err := w.Wait(func() bool { return false })
			require.NoError(t, err)
			results <- ok
		}()
	}
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, w.Quit())
	for i := 0; i < n; i++ {
		select {
		case ok := <-results:
			require.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("not all waiters observed quit")
		}
	}
}

func TestWaiterWaitForTimesOut(t *testing.T) {
	w := newTestWaiter()
	start := time.Now()
	ok, err := w.WaitFor(func() bool { return false }, 30*time.Millisecond)
	require.Error(t, err)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}
