// Copyright 2016 Aleksandr Demakin. All rights reserved.

package transport

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/shmbus/shmbus"
	"github.com/shmbus/shmbus/engine"
	"github.com/shmbus/shmbus/internal/allocator"
	"github.com/shmbus/shmbus/pool"
	"github.com/shmbus/shmbus/queue"
	"github.com/shmbus/shmbus/shm"
)

// maxLargeChunk bounds the biggest size class a Transport's LargeMsgPool
// will carve out, so a small LargeAlign doesn't produce an impractically
// long chain of doubling size classes.
const maxLargeChunk = 1 << 20

// Buffer is what Recv returns: the decoded payload, and, for messages that
// came through the large-pool path, a Release that must be called once the
// caller is done with Data so the underlying chunk can be reused. Release
// is nil (and a no-op) for inline and segmented messages, which are
// already process-local copies.
type Buffer struct {
	Data    []byte
	release func()
}

// Release drops the pool reference backing Data, if any. Safe to call on
// every Buffer regardless of path.
func (b *Buffer) Release() {
	if b.release != nil {
		b.release()
	}
}

// Transport is ChannelTransport: a queue.Queue plus, if Config.LargeLimit
// is positive, a side pool.Pool for payloads too big to carry inline or
// segmented.
type Transport struct {
	q    *queue.Queue
	cfg  shmbus.Config
	pool *pool.Pool
	ph   *shm.Handle

	nextAssembly uint32
	cache        map[uint32][]byte
}

func queueConfig(cfg shmbus.Config) shmbus.Config {
	qc := cfg
	qc.InlineSize = cfg.InlineSize + wireHeaderSize
	return qc
}

func poolName(prefix string) string {
	return prefix + "__large_pool"
}

func numClassesFor(largeAlign int) int {
	n := 1
	size := largeAlign
	for size < maxLargeChunk {
		size <<= 1
		n++
	}
	return n
}

func attachPool(prefix string, cfg shmbus.Config, perm os.FileMode) (*shm.Handle, *pool.Pool, error) {
	numClasses := numClassesFor(cfg.LargeAlign)
	size := pool.Size(numClasses, cfg.LargeCache, cfg.LargeAlign)
	h, err := shm.Open(poolName(prefix), shmbus.OpenOrCreate, size, perm)
	if err != nil {
		return nil, nil, err
	}
	base := allocator.ByteSliceData(h.Bytes())
	var p *pool.Pool
	if h.Created() {
		p = pool.New(base, numClasses, cfg.LargeCache, cfg.LargeAlign)
	} else {
		p = pool.Open(base)
	}
	return h, p, nil
}

func connect(prefix string, topology engine.Topology, cfg shmbus.Config, perm os.FileMode, receiver bool) (*Transport, error) {
	var q *queue.Queue
	var err error
	if receiver {
		q, err = queue.ConnectReceiver(prefix, topology, queueConfig(cfg), perm)
	} else {
		q, err = queue.ConnectSender(prefix, topology, queueConfig(cfg), perm)
	}
	if err != nil {
		return nil, err
	}

	t := &Transport{q: q, cfg: cfg, cache: make(map[uint32][]byte)}
	if cfg.LargeLimit > 0 {
		h, p, err := attachPool(prefix, cfg, perm)
		if err != nil {
			q.Close()
			return nil, err
		}
		t.ph, t.pool = h, p
	}
	return t, nil
}

// ConnectSender attaches as a producer to the named channel, creating its
// queue and (if Config.LargeLimit > 0) its large-message pool if absent.
func ConnectSender(prefix string, topology engine.Topology, cfg shmbus.Config, perm os.FileMode) (*Transport, error) {
	return connect(prefix, topology, cfg, perm, false)
}

// ConnectReceiver attaches as a consumer to the named channel.
func ConnectReceiver(prefix string, topology engine.Topology, cfg shmbus.Config, perm os.FileMode) (*Transport, error) {
	return connect(prefix, topology, cfg, perm, true)
}

// Queue returns the underlying Queue, for callers that need ConnectedMask,
// StartCleaner, or other queue-level operations transport doesn't expose.
func (t *Transport) Queue() *queue.Queue { return t.q }

func (t *Transport) closePool() error {
	if t.ph == nil {
		return nil
	}
	return t.ph.Close()
}

// DisconnectSender tears down a sender's attachment.
func (t *Transport) DisconnectSender() error {
	err := t.q.DisconnectSender()
	if perr := t.closePool(); perr != nil && err == nil {
		err = perr
	}
	return err
}

// DisconnectReceiver tears down a receiver's attachment and closes its
// handle on the large-message pool. It does not release pool references
// held by Buffers this receiver has not released; those chunks stay out of
// the freelist until Buffer.Release is called on them.
func (t *Transport) DisconnectReceiver() error {
	err := t.q.DisconnectReceiver()
	if perr := t.closePool(); perr != nil && err == nil {
		err = perr
	}
	return err
}

// Send encodes payload onto the inline, segmented, or large-pool path by
// its size and pushes it (blocking per timeout; timeout < 0 waits forever,
// timeout == 0 never blocks on the queue). On the large-pool path, the wait
// for a free pool chunk is not bounded by timeout: it blocks until a chunk
// of the needed class is released.
func (t *Transport) Send(payload []byte, timeout time.Duration) error {
	n := len(payload)
	switch {
	case n <= t.cfg.InlineSize:
		return t.sendInline(payload, timeout)
	case t.cfg.SegmentedActive() && n <= t.cfg.LargeLimit:
		return t.sendSegmented(payload, timeout)
	default:
		return t.sendLargePool(payload, timeout)
	}
}

func (t *Transport) sendInline(payload []byte, timeout time.Duration) error {
	buf := make([]byte, wireHeaderSize+len(payload))
	encodeHeader(buf, kindInline, 0, 0)
	copy(buf[wireHeaderSize:], payload)
	return t.q.Push(buf, timeout)
}

func (t *Transport) sendSegmented(payload []byte, timeout time.Duration) error {
	id := atomic.AddUint32(&t.nextAssembly, 1)
	segSize := t.cfg.InlineSize
	for offset := 0; offset < len(payload); offset += segSize {
		end := offset + segSize
		if end > len(payload) {
			end = len(payload)
		}
		seg := payload[offset:end]
		remaining := uint32(len(payload) - end)
		kind := kindSegmentCont
		if offset == 0 {
			kind = kindSegmentFirst
		}
		buf := make([]byte, wireHeaderSize+len(seg))
		encodeHeader(buf, kind, id, remaining)
		copy(buf[wireHeaderSize:], seg)
		if err := t.q.Push(buf, timeout); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) sendLargePool(payload []byte, timeout time.Duration) error {
	if t.pool == nil {
		return shmbus.NewError("transport.Send", shmbus.PayloadTooLarge,
			errors.New("large-pool path not configured (Config.LargeLimit == 0)"))
	}
	// Broadcast delivers to every connected receiver, so the chunk needs a
	// reference per connected bit; any other topology delivers to exactly
	// one consumer regardless of how many are connected, so it only ever
	// gets released once.
	readersMask := uint32(1)
	if t.q.IsBroadcast() {
		readersMask = t.q.ConnectedMask()
	}
	id, chunk, err := t.pool.Acquire(len(payload), readersMask)
	if err != nil {
		return err
	}
	copy(chunk, payload)

	buf := make([]byte, wireHeaderSize)
	encodeHeader(buf, kindPoolRef, id, uint32(len(payload)))
	if err := t.q.Push(buf, timeout); err != nil {
		t.pool.Release(id)
		return err
	}
	return nil
}

// Recv pops and decodes one complete message, transparently consuming and
// reassembling as many segmented slots as needed. timeout < 0 waits
// forever; timeout == 0 never blocks on any slot popped, which for a
// segmented message in progress can return TimedOut
// partway through reassembly — the partial buffer is kept for the next
// call, per the documented per-receiver reassembly cache.
func (t *Transport) Recv(timeout time.Duration) (*Buffer, error) {
	dst := make([]byte, t.q.DataSize())
	for {
		n, err := t.q.Pop(dst, timeout)
		if err != nil {
			return nil, err
		}
		kind, a, b := decodeHeader(dst[:n])
		body := dst[wireHeaderSize:n]
		switch kind {
		case kindInline:
			out := make([]byte, len(body))
			copy(out, body)
			return &Buffer{Data: out}, nil
		case kindSegmentFirst, kindSegmentCont:
			if complete, ok := t.reassemble(kind, a, b, body); ok {
				return &Buffer{Data: complete}, nil
			}
		case kindPoolRef:
			return t.recvPoolRef(a, b)
		default:
			return nil, shmbus.NewError("transport.Recv", shmbus.SizeMismatch,
				errors.Errorf("unknown wire kind %d", kind))
		}
	}
}

func (t *Transport) recvPoolRef(id, length uint32) (*Buffer, error) {
	if t.pool == nil {
		return nil, shmbus.NewError("transport.Recv", shmbus.SizeMismatch,
			errors.New("received a large-pool reference with no pool attached"))
	}
	chunk, err := t.pool.Fetch(id)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		Data:    chunk[:length],
		release: func() { t.pool.Release(id) },
	}, nil
}

// reassemble feeds one segment into the per-assembly-id cache. A
// continuation segment for an id with no cache entry means this receiver
// missed that message's first segment (a late joiner, or simply never saw
// it); it is discarded until a fresh kindSegmentFirst begins a new id.
func (t *Transport) reassemble(kind uint8, id, remaining uint32, segment []byte) ([]byte, bool) {
	if kind == kindSegmentFirst {
		buf := make([]byte, 0, len(segment)+int(remaining))
		buf = append(buf, segment...)
		if remaining == 0 {
			return buf, true
		}
		t.cache[id] = buf
		return nil, false
	}
	buf, ok := t.cache[id]
	if !ok {
		return nil, false
	}
	buf = append(buf, segment...)
	if remaining == 0 {
		delete(t.cache, id)
		return buf, true
	}
	t.cache[id] = buf
	return nil, false
}
