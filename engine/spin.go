// Copyright 2016 Aleksandr Demakin. All rights reserved.

package engine

import "runtime"

// spinUntilCommitted busy-waits for test to report true, yielding the
// thread periodically so a preempted writer on the same core gets to run.
func spinUntilCommitted(test func() bool) {
	for i := 0; !test(); i++ {
		if i&255 == 255 {
			runtime.Gosched()
		}
	}
}
