// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package queue binds an engine.Engine to a ring.Ring inside a shm.Object,
// and tracks which of the 32 receiver bits are in use. It is the typed
// front-end transport builds on: callers push and pop fixed DataSize
// slots, with a spin-then-block fallback when the ring is momentarily full
// or empty.
package queue
