// Copyright 2016 Aleksandr Demakin. All rights reserved.

package queue

import (
	"math/bits"
	"os"
	"time"
	"unsafe"

	"github.com/shmbus/shmbus"
	"github.com/shmbus/shmbus/engine"
	"github.com/shmbus/shmbus/internal/allocator"
	"github.com/shmbus/shmbus/ring"
	"github.com/shmbus/shmbus/robust"
	"github.com/shmbus/shmbus/shm"
)

// Role distinguishes a Queue's end of the channel: senders are unbounded
// and untracked, receivers hold one of the 32 ConnectionMask bits.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

// Queue owns one process's attachment to a channel: the ShmObject handle,
// a view of its CircularArray, the protocol engine selected by topology,
// and, for receivers, this process's cursor and allocated connection bit.
type Queue struct {
	name       string
	topology   engine.Topology
	role       Role
	handle     *shm.Handle
	ring       *ring.Ring
	eng        engine.Engine
	waiter     *robust.Waiter
	heartbeats unsafe.Pointer

	spinBudget int
	cursor     engine.Cursor
	bit        uint32
}

// layout: [Waiter][heartbeats][CircularArray]
func regionSize(cfg shmbus.Config) int {
	return robust.WaiterSize + heartbeatsSize + ring.Size(cfg.SlotCount, cfg.InlineSize, cfg.AlignSize)
}

func attach(prefix string, topology engine.Topology, cfg shmbus.Config, perm os.FileMode) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	name := Name(prefix, topology, cfg.InlineSize, cfg.AlignSize)
	h, err := shm.Open(name, shmbus.OpenOrCreate, regionSize(cfg), perm)
	if err != nil {
		return nil, err
	}

	base := allocator.ByteSliceData(h.Bytes())
	waiterMem := base
	heartbeatsMem := allocator.AdvancePointer(base, robust.WaiterSize)
	ringMem := allocator.AdvancePointer(heartbeatsMem, heartbeatsSize)

	waiter := robust.NewWaiter(waiterMem)
	var r *ring.Ring
	if h.Created() {
		waiter.Init()
		for bit := 0; bit < 32; bit++ {
			*heartbeatWordAt(heartbeatsMem, bit) = 0
		}
		r, err = ring.New(ringMem, cfg.SlotCount, cfg.InlineSize, cfg.AlignSize)
		if err != nil {
			h.Close()
			return nil, err
		}
	} else {
		r = ring.Open(ringMem)
	}

	eng, err := engine.New(topology)
	if err != nil {
		h.Close()
		return nil, err
	}

	return &Queue{
		name:       name,
		topology:   topology,
		handle:     h,
		ring:       r,
		eng:        eng,
		waiter:     waiter,
		heartbeats: heartbeatsMem,
		spinBudget: cfg.SpinBudget,
	}, nil
}

// ConnectSender attaches to (creating if absent) the named channel as a
// producer. Senders are not bounded or tracked in the ConnectionMask.
func ConnectSender(prefix string, topology engine.Topology, cfg shmbus.Config, perm os.FileMode) (*Queue, error) {
	q, err := attach(prefix, topology, cfg, perm)
	if err != nil {
		return nil, err
	}
	q.role = RoleSender
	return q, nil
}

// ConnectReceiver attaches to (creating if absent) the named channel as a
// consumer, allocating a free ConnectionMask bit. It fails with
// shmbus.TooManyReceivers if all of cfg.MaxReceivers bits are already held.
func ConnectReceiver(prefix string, topology engine.Topology, cfg shmbus.Config, perm os.FileMode) (*Queue, error) {
	q, err := attach(prefix, topology, cfg, perm)
	if err != nil {
		return nil, err
	}
	q.role = RoleReceiver

	// Snapshot Head before publishing the connection bit, not after: once the
	// bit is visible in ConnectedMask, a concurrent broadcast TryPush may
	// stamp it into a slot's mask before this call reads Head, which would
	// leave the cursor starting past that slot with no way to ever clear its
	// bit (DisconnectReceiver's ClearReceiverBit only walks forward from the
	// cursor). Reading Head first means the worst case is the reverse: this
	// receiver's cursor starts at or before a slot whose mask doesn't carry
	// its bit yet, which TryPop/ClearReceiverBit both already treat as a
	// no-op rather than a wedge.
	pos := q.ring.Head()
	bit, err := q.allocateBit(cfg.MaxReceivers)
	if err != nil {
		q.handle.Close()
		return nil, err
	}
	q.bit = bit
	q.cursor = engine.Cursor{Pos: pos, Bit: bit}
	q.touchHeartbeat()
	return q, nil
}

func (q *Queue) allocateBit(maxReceivers int) (uint32, error) {
	limit := uint32(maxReceivers)
	if limit > 32 {
		limit = 32
	}
	for {
		old := q.ring.ConnectedMask()
		free := ^old
		if maxReceivers < 32 {
			free &= (uint32(1) << limit) - 1
		}
		if free == 0 {
			return 0, shmbus.NewError("queue.ConnectReceiver", shmbus.TooManyReceivers, nil)
		}
		bit := uint32(1) << bits.TrailingZeros32(free)
		if q.ring.CASConnectedMask(old, old|bit) {
			return bit, nil
		}
	}
}

// Name returns the ShmObject name this queue attached to.
func (q *Queue) Name() string { return q.name }

// Role reports whether this attachment is a sender or a receiver.
func (q *Queue) Role() Role { return q.role }

// DataSize returns the inline payload capacity of one slot.
func (q *Queue) DataSize() int { return q.ring.DataSize() }

// ConnectedMask returns the live-receiver bitmask.
func (q *Queue) ConnectedMask() uint32 { return q.ring.ConnectedMask() }

// IsBroadcast reports whether this queue's topology delivers every message
// to every connected receiver, as opposed to exactly one.
func (q *Queue) IsBroadcast() bool { return q.topology.IsBroadcast() }

func (q *Queue) clearBit(bit uint32) {
	for {
		old := q.ring.ConnectedMask()
		if old&bit == 0 {
			return
		}
		if q.ring.CASConnectedMask(old, old&^bit) {
			return
		}
	}
}

func (q *Queue) reclaimBit(bit uint32) {
	if q.topology.IsBroadcast() {
		engine.ClearReceiverBit(q.ring, 0, q.ring.Head(), bit)
	}
	q.clearBit(bit)
}

// DisconnectSender closes this sender's attachment. Senders carry no
// shared-memory state beyond the region's refcount.
func (q *Queue) DisconnectSender() error {
	if q.role != RoleSender {
		return shmbus.NewError("queue.DisconnectSender", shmbus.NotOwner, nil)
	}
	return q.Close()
}

// DisconnectReceiver releases this receiver's ConnectionMask bit, clearing
// it from every outstanding broadcast slot mask between its cursor and the
// current head so producers waiting on that slot's mask reaching zero are
// not stalled forever, then closes the attachment.
func (q *Queue) DisconnectReceiver() error {
	if q.role != RoleReceiver {
		return shmbus.NewError("queue.DisconnectReceiver", shmbus.NotOwner, nil)
	}
	if q.topology.IsBroadcast() {
		engine.ClearReceiverBit(q.ring, q.cursor.Pos, q.ring.Head(), q.bit)
	}
	q.clearBit(q.bit)
	return q.Close()
}

// Close releases this attachment's hold on the underlying ShmObject without
// touching connection bookkeeping; used internally and by callers that
// manage the mask themselves.
func (q *Queue) Close() error {
	return q.handle.Close()
}

// TryPush makes one non-blocking attempt to publish payload as a single
// slot. It returns false (nil error) if the ring is currently full.
func (q *Queue) TryPush(payload []byte) (bool, error) {
	if len(payload) > q.ring.DataSize() {
		return false, shmbus.NewError("queue.TryPush", shmbus.PayloadTooLarge, nil)
	}
	ok, err := q.eng.TryPush(q.ring, payload)
	if ok {
		q.waiter.Broadcast()
	}
	return ok, err
}

// Push publishes payload, retrying for cfg.SpinBudget attempts before
// falling back to a blocking wait. timeout < 0 waits forever; timeout == 0
// never blocks and returns TimedOut once the spin attempts have failed.
func (q *Queue) Push(payload []byte, timeout time.Duration) error {
	if len(payload) > q.ring.DataSize() {
		return shmbus.NewError("queue.Push", shmbus.PayloadTooLarge, nil)
	}
	for i := 0; i < q.spinBudget; i++ {
		ok, err := q.TryPush(payload)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	if timeout == 0 {
		return shmbus.NewError("queue.Push", shmbus.TimedOut, nil)
	}
	var pushErr error
	ok, err := q.waiter.WaitFor(func() bool {
		var done bool
		done, pushErr = q.eng.TryPush(q.ring, payload)
		return done
	}, timeout)
	if err != nil {
		return err
	}
	if pushErr != nil {
		return pushErr
	}
	q.waiter.Broadcast()
	if !ok {
		return shmbus.NewError("queue.Push", shmbus.Shutdown, nil)
	}
	return nil
}

// TryPop makes one non-blocking attempt to claim and read one slot into
// dst, which must be at least DataSize() bytes. It returns the number of
// bytes read and false (nil error) if there was nothing to pop.
func (q *Queue) TryPop(dst []byte) (int, bool, error) {
	n, ok, err := q.eng.TryPop(q.ring, &q.cursor, dst)
	if ok {
		q.touchHeartbeat()
		q.waiter.Broadcast()
	}
	return n, ok, err
}

// Pop reads one slot into dst, retrying for cfg.SpinBudget attempts before
// falling back to a blocking wait. timeout < 0 waits forever; timeout == 0
// never blocks and returns TimedOut once the spin attempts have failed.
func (q *Queue) Pop(dst []byte, timeout time.Duration) (int, error) {
	for i := 0; i < q.spinBudget; i++ {
		n, ok, err := q.TryPop(dst)
		if err != nil {
			return 0, err
		}
		if ok {
			return n, nil
		}
	}
	if timeout == 0 {
		return 0, shmbus.NewError("queue.Pop", shmbus.TimedOut, nil)
	}
	var n int
	var popErr error
	ok, err := q.waiter.WaitFor(func() bool {
		var done bool
		n, done, popErr = q.eng.TryPop(q.ring, &q.cursor, dst)
		return done
	}, timeout)
	if err != nil {
		return 0, err
	}
	if popErr != nil {
		return 0, popErr
	}
	if !ok {
		return 0, shmbus.NewError("queue.Pop", shmbus.Shutdown, nil)
	}
	q.touchHeartbeat()
	q.waiter.Broadcast()
	return n, nil
}
