// Copyright 2016 Aleksandr Demakin. All rights reserved.

package pool

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/shmbus/shmbus"
)

func newTestPool(t *testing.T, numClasses, cachePerClass, largeAlign int) *Pool {
	mem := make([]byte, Size(numClasses, cachePerClass, largeAlign))
	return New(unsafe.Pointer(&mem[0]), numClasses, cachePerClass, largeAlign)
}

func TestAcquireFetchRelease(t *testing.T) {
	p := newTestPool(t, 2, 4, 128)

	id, buf, err := p.Acquire(100, 0b11)
	require.NoError(t, err)
	copy(buf, []byte("large message payload"))

	fetched, err := p.Fetch(id)
	require.NoError(t, err)
	require.Equal(t, "large message payload", string(fetched[:21]))

	require.NoError(t, p.Release(id))
	require.NoError(t, p.Release(id))
}

func TestAcquirePicksSmallestFittingClass(t *testing.T) {
	p := newTestPool(t, 3, 2, 64)
	id, buf, ok, err := p.TryAcquire(10, 0b1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, buf, 10)
	classIdx, _ := unpackID(id)
	require.Equal(t, 0, classIdx)
}

func TestAcquirePayloadTooLarge(t *testing.T) {
	p := newTestPool(t, 1, 2, 64)
	_, _, err := p.Acquire(1000, 0b1)
	require.Error(t, err)
	var sErr *shmbus.Error
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, shmbus.PayloadTooLarge, sErr.Kind)
}

func TestTryAcquireExhaustedClass(t *testing.T) {
	p := newTestPool(t, 1, 1, 64)
	id, _, ok, err := p.TryAcquire(10, 0b1)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, ok, err = p.TryAcquire(10, 0b1)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, p.Release(id))
	_, _, ok, err = p.TryAcquire(10, 0b1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRefcountInitializedFromReadersMask(t *testing.T) {
	p := newTestPool(t, 1, 1, 64)
	id, _, ok, err := p.TryAcquire(10, 0b1011)
	require.NoError(t, err)
	require.True(t, ok)

	// popcount(0b1011) == 3 references outstanding: the slot must survive
	// two releases and only return to the freelist on the third.
	require.NoError(t, p.Release(id))
	require.NoError(t, p.Release(id))
	_, _, ok, err = p.TryAcquire(10, 0b1)
	require.NoError(t, err)
	require.False(t, ok, "slot should still be held, one reference outstanding")

	require.NoError(t, p.Release(id))
	_, _, ok, err = p.TryAcquire(10, 0b1)
	require.NoError(t, err)
	require.True(t, ok, "slot should be free after the final release")
}

func TestOpenAttachesToExistingPool(t *testing.T) {
	mem := make([]byte, Size(2, 4, 64))
	created := New(unsafe.Pointer(&mem[0]), 2, 4, 64)
	id, buf, err := created.Acquire(10, 0b1)
	require.NoError(t, err)
	copy(buf, []byte("hi"))

	attached := Open(unsafe.Pointer(&mem[0]))
	fetched, err := attached.Fetch(id)
	require.NoError(t, err)
	require.Equal(t, "hi", string(fetched[:2]))
}
