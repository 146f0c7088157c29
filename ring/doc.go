// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package ring implements CircularArray: a fixed-capacity, power-of-two
// sized array of slots living in shared memory, with atomic head/tail
// cursors and a connected-receiver bitmask. It provides the raw indexing
// and memory-ordering primitives; the producer/consumer protocols that
// decide how to use them live in package engine.
package ring
