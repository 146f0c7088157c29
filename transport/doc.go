// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package transport implements ChannelTransport: variable-size send/recv
// atop a fixed-slot queue.Queue. A payload takes one of three paths
// depending on its size relative to Config.InlineSize and Config.LargeLimit:
// inline (one slot, whole payload embedded), segmented (several
// InLineSize-sized slots sharing an assembly id, reassembled by the
// receiver), or large-pool (a single slot carrying a pool.Pool chunk id).
// The segmented path assumes a single-producer topology: it carries its
// assembly id and remaining-byte tag in the slot payload itself rather than
// the ring's header, so concurrent producers interleaving segments on the
// same channel would corrupt reassembly. Queue/ring-level multi-producer
// topologies are only meant to be paired with the inline and large-pool
// paths.
package transport
