// Copyright 2016 Aleksandr Demakin. All rights reserved.

package ring

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/shmbus/shmbus"
)

func newTestRing(t *testing.T, cap, dataSize, alignSize int) *Ring {
	mem := make([]byte, Size(cap, dataSize, alignSize))
	r, err := New(unsafe.Pointer(&mem[0]), cap, dataSize, alignSize)
	require.NoError(t, err)
	return r
}

func TestNewRejectsNonPowerOfTwo(t *testing.T) {
	mem := make([]byte, Size(10, 8, 8))
	_, err := New(unsafe.Pointer(&mem[0]), 10, 8, 8)
	require.Error(t, err)
	var sErr *shmbus.Error
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, shmbus.SizeMismatch, sErr.Kind)
}

func TestHeaderFieldsRoundTrip(t *testing.T) {
	r := newTestRing(t, 8, 64, 8)
	require.EqualValues(t, 8, r.Cap())
	require.EqualValues(t, 7, r.IndexMask())
	require.Equal(t, 64, r.DataSize())
	require.Equal(t, 8, r.AlignSize())
}

func TestCursorsStartAtZero(t *testing.T) {
	r := newTestRing(t, 4, 16, 8)
	require.EqualValues(t, 0, r.Head())
	require.EqualValues(t, 0, r.Tail())
	require.EqualValues(t, 0, r.ConnectedMask())
}

func TestCASHeadAdvancesOnce(t *testing.T) {
	r := newTestRing(t, 4, 16, 8)
	require.True(t, r.CASHead(0, 1))
	require.False(t, r.CASHead(0, 1))
	require.EqualValues(t, 1, r.Head())
}

func TestSlotPayloadWriteRead(t *testing.T) {
	r := newTestRing(t, 4, 16, 8)
	payload := r.SlotPayload(2)
	copy(payload, []byte("hello ring slot!"))
	require.Equal(t, "hello ring slot!", string(r.SlotPayload(2)[:16]))
}

func TestSlotCommitAndMask(t *testing.T) {
	r := newTestRing(t, 4, 16, 8)
	require.EqualValues(t, 0, r.SlotCommit(0))
	r.StoreSlotCommit(0, 1)
	require.EqualValues(t, 1, r.SlotCommit(0))

	r.StoreSlotMask(1, 0b1011)
	require.True(t, r.CASSlotMask(1, 0b1011, 0b1001))
	require.EqualValues(t, 0b1001, r.SlotMask(1))
	require.False(t, r.CASSlotMask(1, 0b1011, 0))
}

func TestOpenAttachesToExistingHeader(t *testing.T) {
	mem := make([]byte, Size(4, 16, 8))
	created, err := New(unsafe.Pointer(&mem[0]), 4, 16, 8)
	require.NoError(t, err)
	created.StoreHead(3)

	attached := Open(unsafe.Pointer(&mem[0]))
	require.EqualValues(t, 3, attached.Head())
	require.EqualValues(t, 4, attached.Cap())
}

func TestSlotsDoNotOverlap(t *testing.T) {
	r := newTestRing(t, 4, 16, 8)
	for i := 0; i < 4; i++ {
		payload := r.SlotPayload(i)
		for j := range payload {
			payload[j] = byte(i)
		}
	}
	for i := 0; i < 4; i++ {
		payload := r.SlotPayload(i)
		for _, b := range payload {
			require.Equal(t, byte(i), b)
		}
	}
}
