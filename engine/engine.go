// Copyright 2016 Aleksandr Demakin. All rights reserved.

package engine

import (
	"github.com/pkg/errors"

	"github.com/shmbus/shmbus/ring"
)

// Topology selects one of the five ProdConsEngine protocol variants at
// channel construction time.
type Topology int

const (
	// SPSC is single-producer/single-consumer unicast.
	SPSC Topology = iota
	// SPMCUnicast is single-producer/multi-consumer, competitive unicast.
	SPMCUnicast
	// MPMCUnicast is multi-producer/multi-consumer, competitive unicast.
	MPMCUnicast
	// SPMCBroadcast is single-producer/multi-consumer broadcast.
	SPMCBroadcast
	// MPMCBroadcast is multi-producer/multi-consumer broadcast.
	MPMCBroadcast
)

func (t Topology) String() string {
	switch t {
	case SPSC:
		return "spsc"
	case SPMCUnicast:
		return "spmc_uni"
	case MPMCUnicast:
		return "mpmc_uni"
	case SPMCBroadcast:
		return "spmc_bcast"
	case MPMCBroadcast:
		return "mpmc_bcast"
	default:
		return "unknown"
	}
}

// IsBroadcast reports whether t delivers every message to every connected
// receiver, as opposed to exactly one.
func (t Topology) IsBroadcast() bool {
	return t == SPMCBroadcast || t == MPMCBroadcast
}

// Cursor is a receiver's private read position plus its bit in the ring's
// connected mask. Competitive-unicast variants ignore both fields (they
// compete for a single shared tail instead); broadcast variants require
// both to be valid for every call.
type Cursor struct {
	Pos uint64
	Bit uint32
}

// Engine is the interface queue.Queue dispatches Push/Pop through. It is
// crossed once per call; every method below does its own CAS loop against
// the ring, internally, as a single non-blocking attempt.
type Engine interface {
	// TryPush attempts to publish payload as a single slot. It returns
	// false (with a nil error) if the ring is currently full.
	TryPush(r *ring.Ring, payload []byte) (bool, error)
	// TryPop attempts to claim and read one slot into dst, which must be at
	// least r.DataSize() bytes. c is read and/or updated for topologies
	// that track a per-receiver cursor; it returns the number of bytes
	// read and false (with a nil error) if there was nothing to pop.
	TryPop(r *ring.Ring, c *Cursor, dst []byte) (int, bool, error)
}

// New returns the concrete Engine for topology.
func New(topology Topology) (Engine, error) {
	switch topology {
	case SPSC:
		return spsc{}, nil
	case SPMCUnicast:
		return spmcUnicast{}, nil
	case MPMCUnicast:
		return mpmcUnicast{}, nil
	case SPMCBroadcast:
		return broadcast{}, nil
	case MPMCBroadcast:
		return broadcast{multiProducer: true}, nil
	default:
		return nil, errors.Errorf("engine: unknown topology %d", topology)
	}
}
