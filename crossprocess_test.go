// Copyright 2016 Aleksandr Demakin. All rights reserved.

package shmbus_test

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ipc_testing "github.com/shmbus/shmbus/internal/test"
)

func crossProcessPrefix(t *testing.T) string {
	return fmt.Sprintf("shmbus-crossproc-%s-%d", t.Name(), os.Getpid())
}

const probeProgName = "./internal/test/probe/main.go"

func probeArgs(role, prefix string, extra ...string) []string {
	args := []string{probeProgName, "-role=" + role, "-prefix=" + prefix}
	return append(args, extra...)
}

// TestCrossProcessSPSCRoundTrip runs a producer and a consumer as separate
// OS processes against the same named channel, the cross-process half of
// what queue's in-process SPSC tests already cover: one real 'go run'
// process writing 10000 strictly-increasing values, another reading them
// back in order.
func TestCrossProcessSPSCRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns subprocesses")
	}
	prefix := crossProcessPrefix(t)

	recvCh := ipc_testing.RunTestAppAsync(probeArgs("recv", prefix, "-count=10000"), nil)
	time.Sleep(200 * time.Millisecond) // give the receiver time to connect and allocate its bit

	sendResult := ipc_testing.RunTestApp(probeArgs("send", prefix, "-count=10000"), nil)
	require.NoError(t, sendResult.Err, sendResult.Output)

	recvResult, ok := ipc_testing.WaitForAppResultChan(recvCh, 10*time.Second)
	require.True(t, ok, "receiver did not finish in time")
	require.NoError(t, recvResult.Err, recvResult.Output)
}

// TestCrossProcessRobustMutexRecovery exercises the owner-dies-while-locked
// path for real: one subprocess locks a named mutex and exits without
// unlocking, a second subprocess then locks the same mutex and must observe
// the recovery path rather than blocking forever.
func TestCrossProcessRobustMutexRecovery(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns subprocesses")
	}
	prefix := crossProcessPrefix(t)

	crashResult := ipc_testing.RunTestApp(probeArgs("lock-crash", prefix), nil)
	require.NoError(t, crashResult.Err, crashResult.Output)

	recoverResult := ipc_testing.RunTestApp(probeArgs("lock-recover", prefix), nil)
	require.NoError(t, recoverResult.Err, recoverResult.Output)
}
