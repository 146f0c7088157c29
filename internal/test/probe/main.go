// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Command probe is a small subprocess harness for cross-process scenarios
// that a single test binary can't exercise on its own: an SPSC producer and
// consumer running as separate OS processes, and a robust mutex whose owner
// exits without unlocking so a second process can observe the recovery
// path. It is launched with 'go run' by the root package's cross-process
// tests.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shmbus/shmbus"
	"github.com/shmbus/shmbus/engine"
	"github.com/shmbus/shmbus/internal/allocator"
	"github.com/shmbus/shmbus/queue"
	"github.com/shmbus/shmbus/robust"
	"github.com/shmbus/shmbus/shm"
)

func main() {
	role := flag.String("role", "", "send | recv | lock-crash | lock-recover")
	prefix := flag.String("prefix", "", "channel or mutex name prefix")
	count := flag.Int("count", 10000, "number of messages for send/recv")
	flag.Parse()

	var err error
	switch *role {
	case "send":
		err = runSend(*prefix, *count)
	case "recv":
		err = runRecv(*prefix, *count)
	case "lock-crash":
		err = runLockCrash(*prefix)
	case "lock-recover":
		err = runLockRecover(*prefix)
	default:
		err = fmt.Errorf("unknown role %q", *role)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func spscConfig() shmbus.Config {
	cfg := shmbus.DefaultConfig()
	cfg.SlotCount = 256
	cfg.InlineSize = 16
	return cfg
}

func runSend(prefix string, count int) error {
	q, err := queue.ConnectSender(prefix, engine.SPSC, spscConfig(), 0o600)
	if err != nil {
		return err
	}
	defer q.DisconnectSender()

	payload := make([]byte, 16)
	for i := 0; i < count; i++ {
		binary.LittleEndian.PutUint64(payload, uint64(i))
		if err := q.Push(payload, -1); err != nil {
			return fmt.Errorf("push %d: %w", i, err)
		}
	}
	return nil
}

func runRecv(prefix string, count int) error {
	q, err := queue.ConnectReceiver(prefix, engine.SPSC, spscConfig(), 0o600)
	if err != nil {
		return err
	}
	defer q.DisconnectReceiver()

	dst := make([]byte, q.DataSize())
	var prev int64 = -1
	for i := 0; i < count; i++ {
		n, err := q.Pop(dst, 5*time.Second)
		if err != nil {
			return fmt.Errorf("pop %d: %w", i, err)
		}
		cur := int64(binary.LittleEndian.Uint64(dst[:n]))
		if cur <= prev {
			return fmt.Errorf("out of order: got %d after %d", cur, prev)
		}
		prev = cur
	}
	return nil
}

func openMutexRegion(prefix string) (*shm.Handle, *robust.Mutex, error) {
	h, err := shm.Open(prefix+"__mutex", shmbus.OpenOrCreate, robust.MutexSize, 0o600)
	if err != nil {
		return nil, nil, err
	}
	base := allocator.ByteSliceData(h.Bytes())
	m := robust.NewMutex(base)
	if h.Created() {
		m.Init()
	}
	return h, m, nil
}

func runLockCrash(prefix string) error {
	h, m, err := openMutexRegion(prefix)
	if err != nil {
		return err
	}
	if err := m.Lock(); err != nil {
		return err
	}
	// Deliberately exit while still holding the lock and without closing h,
	// simulating a process that dies mid-critical-section.
	allocator.KeepAlive(allocator.ByteSliceData(h.Bytes()))
	os.Exit(0)
	return nil
}

func runLockRecover(prefix string) error {
	h, m, err := openMutexRegion(prefix)
	if err != nil {
		return err
	}
	defer h.Close()

	ok, err := m.TryLockFor(5 * time.Second)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("did not recover the dead owner's lock in time")
	}
	return m.Unlock()
}

