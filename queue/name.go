// Copyright 2016 Aleksandr Demakin. All rights reserved.

package queue

import (
	"fmt"

	"github.com/shmbus/shmbus/engine"
)

// Name composes the ShmObject name a channel's queue lives under: a user
// prefix, the topology tag, the data-slot size, and its alignment, so two
// channels differing only in slot layout occupy disjoint regions. Attaching
// with a mismatching size fails with shmbus.SizeMismatch at the shm layer.
func Name(prefix string, topology engine.Topology, dataSize, alignSize int) string {
	return fmt.Sprintf("%s__%s__elems__%d__%d", prefix, topology, dataSize, alignSize)
}
