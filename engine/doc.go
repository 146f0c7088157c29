// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package engine implements the five ProdConsEngine protocol variants that
// decide how producers and consumers claim and publish ring.Ring slots:
// SPSC, competitive-unicast (single- and multi-producer), and broadcast
// (single- and multi-producer). Each variant is a concrete type selected
// once at channel construction time — queue.Queue crosses the Engine
// interface boundary once per Push/Pop call, never per slot-field access,
// so the hot CAS loops inside each variant are always monomorphic method
// calls on a concrete type.
package engine
