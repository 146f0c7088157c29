// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package shmbus provides cross-process communication primitives built on
// named shared memory. It implements:
//	named, reference-counted shared-memory objects (package shm)
//	robust cross-process mutexes and condition variables (package robust)
//	lock-free circular slot arrays (package ring)
//	producer/consumer protocols for unicast and broadcast topologies (package engine)
//	a typed queue front-end binding an engine to a ring (package queue)
//	a side pool of shared-memory chunks for oversized payloads (package pool)
//	variable-size message transport atop queues (package transport)
// This package holds shared types used across all of them: open-mode flags,
// the error-kind taxonomy, the destroyer interface, and channel configuration.
package shmbus
