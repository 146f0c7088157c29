// Copyright 2016 Aleksandr Demakin. All rights reserved.

package robust

import (
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newTestCond() (*Mutex, *CondVar) {
	mem := make([]byte, MutexSize+CondVarSize)
	m := NewMutex(unsafe.Pointer(&mem[0]))
	m.Init()
	c := NewCondVar(unsafe.Pointer(&mem[MutexSize]))
	c.Init()
	return m, c
}

func TestCondVarNotifyWakesWaiter(t *testing.T) {
	m, c := newTestCond()

	ready := make(chan struct{})
	woken := make(chan struct{})
	go func() {
		require.NoError(t, m.Lock())
		close(ready)
		require.NoError(t, c.Wait(m))
		require.NoError(t, m.Unlock())
		close(woken)
	}()

	<-ready
	// Give the waiter time to release m and park in futexWait.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Lock())
	c.Notify()
	m.Unlock()

	select {
	case <-woken:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestCondVarWaitForTimesOut(t *testing.T) {
	m, c := newTestCond()
	require.NoError(t, m.Lock())
	start := time.Now()
	err := c.WaitFor(m, 30*time.Millisecond)
	require.Error(t, err)
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	require.NoError(t, m.Unlock())
}

func TestCondVarBroadcastWakesAll(t *testing.T) {
	m, c := newTestCond()
	const n = 4
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			require.NoError(t, m.Lock())
			require.NoError(t, c.Wait(m))
			require.NoError(t, m.Unlock())
			done <- struct{}{}
		}()
	}
	time.Sleep(30 * time.Millisecond)
	c.Broadcast()
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("not all waiters woke")
		}
	}
}
