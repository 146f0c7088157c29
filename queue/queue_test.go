// Copyright 2016 Aleksandr Demakin. All rights reserved.

package queue

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shmbus/shmbus"
	"github.com/shmbus/shmbus/engine"
)

func testConfig() shmbus.Config {
	cfg := shmbus.DefaultConfig()
	cfg.SlotCount = 8
	cfg.InlineSize = 16
	cfg.SpinBudget = 4
	return cfg
}

func uniquePrefix(t *testing.T) string {
	return fmt.Sprintf("shmbus-queue-test-%s-%d", t.Name(), os.Getpid())
}

func TestSPSCPushPopRoundTrip(t *testing.T) {
	prefix := uniquePrefix(t)
	cfg := testConfig()
	sender, err := ConnectSender(prefix, engine.SPSC, cfg, 0o600)
	require.NoError(t, err)
	defer sender.DisconnectSender()
	receiver, err := ConnectReceiver(prefix, engine.SPSC, cfg, 0o600)
	require.NoError(t, err)
	defer receiver.DisconnectReceiver()

	require.NoError(t, sender.Push([]byte("hello"), -1))
	dst := make([]byte, cfg.InlineSize)
	n, err := receiver.Pop(dst, -1)
	require.NoError(t, err)
	require.Equal(t, "hello", string(dst[:n]))
}

func TestTryPushFullThenTryPopFrees(t *testing.T) {
	prefix := uniquePrefix(t)
	cfg := testConfig()
	sender, err := ConnectSender(prefix, engine.SPSC, cfg, 0o600)
	require.NoError(t, err)
	defer sender.DisconnectSender()
	receiver, err := ConnectReceiver(prefix, engine.SPSC, cfg, 0o600)
	require.NoError(t, err)
	defer receiver.DisconnectReceiver()

	for i := 0; i < cfg.SlotCount; i++ {
		ok, err := sender.TryPush([]byte{byte(i)})
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := sender.TryPush([]byte{0xff})
	require.NoError(t, err)
	require.False(t, ok)

	dst := make([]byte, cfg.InlineSize)
	n, ok, err := receiver.TryPop(dst)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, n)

	ok, err = sender.TryPush([]byte{0xff})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestConnectReceiverAllocatesDistinctBits(t *testing.T) {
	prefix := uniquePrefix(t)
	cfg := testConfig()
	sender, err := ConnectSender(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.NoError(t, err)
	defer sender.DisconnectSender()

	r1, err := ConnectReceiver(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.NoError(t, err)
	r2, err := ConnectReceiver(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.NoError(t, err)
	require.NotEqual(t, r1.bit, r2.bit)
	require.Equal(t, r1.bit|r2.bit, r1.ConnectedMask())

	require.NoError(t, r1.DisconnectReceiver())
	require.Equal(t, r2.bit, sender.ConnectedMask())
	require.NoError(t, r2.DisconnectReceiver())
}

func TestConnectReceiverTooManyReceivers(t *testing.T) {
	prefix := uniquePrefix(t)
	cfg := testConfig()
	cfg.MaxReceivers = 2
	sender, err := ConnectSender(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.NoError(t, err)
	defer sender.DisconnectSender()

	r1, err := ConnectReceiver(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.NoError(t, err)
	defer r1.DisconnectReceiver()
	r2, err := ConnectReceiver(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.NoError(t, err)
	defer r2.DisconnectReceiver()

	_, err = ConnectReceiver(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.Error(t, err)
	var sErr *shmbus.Error
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, shmbus.TooManyReceivers, sErr.Kind)
}

func TestBroadcastEveryReceiverSeesEveryMessage(t *testing.T) {
	prefix := uniquePrefix(t)
	cfg := testConfig()
	sender, err := ConnectSender(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.NoError(t, err)
	defer sender.DisconnectSender()
	r1, err := ConnectReceiver(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.NoError(t, err)
	defer r1.DisconnectReceiver()
	r2, err := ConnectReceiver(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.NoError(t, err)
	defer r2.DisconnectReceiver()

	for i := 0; i < 3; i++ {
		require.NoError(t, sender.Push([]byte{byte(i)}, -1))
	}

	for _, r := range []*Queue{r1, r2} {
		for i := 0; i < 3; i++ {
			dst := make([]byte, cfg.InlineSize)
			n, err := r.Pop(dst, -1)
			require.NoError(t, err)
			require.Equal(t, byte(i), dst[:n][0])
		}
	}
}

func TestDisconnectReceiverFreesOutstandingBroadcastSlots(t *testing.T) {
	prefix := uniquePrefix(t)
	cfg := testConfig()
	sender, err := ConnectSender(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.NoError(t, err)
	defer sender.DisconnectSender()
	r1, err := ConnectReceiver(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.NoError(t, err)

	for i := 0; i < cfg.SlotCount; i++ {
		ok, err := sender.TryPush([]byte{byte(i)})
		require.NoError(t, err)
		require.True(t, ok)
	}
	// r1 never consumed; the ring is full of slots still owing r1 a read.
	ok, err := sender.TryPush([]byte{0xff})
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, r1.DisconnectReceiver())

	ok, err = sender.TryPush([]byte{0xff})
	require.NoError(t, err)
	require.True(t, ok, "disconnecting the only receiver must free its outstanding slots")
}

func TestPopTimesOutWhenEmpty(t *testing.T) {
	prefix := uniquePrefix(t)
	cfg := testConfig()
	sender, err := ConnectSender(prefix, engine.SPSC, cfg, 0o600)
	require.NoError(t, err)
	defer sender.DisconnectSender()
	receiver, err := ConnectReceiver(prefix, engine.SPSC, cfg, 0o600)
	require.NoError(t, err)
	defer receiver.DisconnectReceiver()

	dst := make([]byte, cfg.InlineSize)
	_, err = receiver.Pop(dst, 20*time.Millisecond)
	require.Error(t, err)
	var sErr *shmbus.Error
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, shmbus.TimedOut, sErr.Kind)
}

func TestPushBlocksUntilPopMakesSpace(t *testing.T) {
	prefix := uniquePrefix(t)
	cfg := testConfig()
	sender, err := ConnectSender(prefix, engine.SPSC, cfg, 0o600)
	require.NoError(t, err)
	defer sender.DisconnectSender()
	receiver, err := ConnectReceiver(prefix, engine.SPSC, cfg, 0o600)
	require.NoError(t, err)
	defer receiver.DisconnectReceiver()

	for i := 0; i < cfg.SlotCount; i++ {
		ok, err := sender.TryPush([]byte{byte(i)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var pushErr error
	go func() {
		defer wg.Done()
		pushErr = sender.Push([]byte{0xaa}, time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	dst := make([]byte, cfg.InlineSize)
	_, err = receiver.Pop(dst, -1)
	require.NoError(t, err)

	wg.Wait()
	require.NoError(t, pushErr)
}

func TestPayloadTooLarge(t *testing.T) {
	prefix := uniquePrefix(t)
	cfg := testConfig()
	sender, err := ConnectSender(prefix, engine.SPSC, cfg, 0o600)
	require.NoError(t, err)
	defer sender.DisconnectSender()

	_, err = sender.TryPush(make([]byte, cfg.InlineSize+1))
	require.Error(t, err)
	var sErr *shmbus.Error
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, shmbus.PayloadTooLarge, sErr.Kind)
}

func TestStartCleanerReclaimsDeadReceiverBit(t *testing.T) {
	prefix := uniquePrefix(t)
	cfg := testConfig()
	sender, err := ConnectSender(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.NoError(t, err)
	defer sender.DisconnectSender()
	r1, err := ConnectReceiver(prefix, engine.SPMCBroadcast, cfg, 0o600)
	require.NoError(t, err)

	stop := sender.StartCleaner(DefaultHeartbeatInterval)
	defer stop()

	// Simulate r1 crashing: its heartbeat is never touched again, and it
	// never calls DisconnectReceiver, so its bit stays set until the
	// cleaner notices the stale heartbeat.
	require.Eventually(t, func() bool {
		return sender.ConnectedMask()&r1.bit == 0
	}, time.Second, 5*time.Millisecond)
}
