// Copyright 2016 Aleksandr Demakin. All rights reserved.

package shmbus

// Config holds the channel-wide knobs enumerated in the design. All fields
// have production-sane defaults via DefaultConfig; callers typically only
// override one or two.
type Config struct {
	// InlineSize is the number of payload bytes carried directly in a slot.
	InlineSize int
	// AlignSize is the alignment of a slot's payload region.
	AlignSize int
	// SlotCount is the ring capacity. Must be a power of two.
	SlotCount int
	// LargeLimit is the threshold above which the large-pool path is used.
	LargeLimit int
	// LargeAlign is the chunk alignment used by the large-message pool.
	LargeAlign int
	// LargeCache is the number of chunks cached per size class.
	LargeCache int
	// MaxReceivers caps how many receivers may connect; at most the
	// package-level MaxReceivers (the width of the connection bitmask).
	MaxReceivers int
	// SpinBudget is the number of CAS retries before falling back to a Waiter.
	SpinBudget int
}

// MaxReceivers is fixed by the width of ConnectionMask: Config.MaxReceivers
// may lower a channel's receiver limit but never raise it above this.
const MaxReceivers = 32

// DefaultConfig returns the documented defaults from the design's
// configuration table.
func DefaultConfig() Config {
	return Config{
		InlineSize:   64,
		AlignSize:    nativeAlign(64),
		SlotCount:    256,
		LargeLimit:   64,
		LargeAlign:   1024,
		LargeCache:   32,
		MaxReceivers: MaxReceivers,
		SpinBudget:   1024,
	}
}

// Validate checks the invariants the rest of the library assumes.
func (c Config) Validate() error {
	if c.SlotCount <= 0 || c.SlotCount&(c.SlotCount-1) != 0 {
		return NewError("Config.Validate", SizeMismatch, errNotPowerOfTwo)
	}
	if c.MaxReceivers <= 0 || c.MaxReceivers > MaxReceivers {
		return NewError("Config.Validate", SizeMismatch, errReceiverLimit)
	}
	if c.InlineSize <= 0 {
		return NewError("Config.Validate", SizeMismatch, errBadInlineSize)
	}
	if c.LargeLimit < 0 {
		return NewError("Config.Validate", SizeMismatch, errBadLargeLimit)
	}
	return nil
}

// SegmentedActive reports whether the segmented transport path is active:
// it only is when the large-pool threshold sits strictly above the inline
// band, per the design's resolution of the open question around thresholds.
func (c Config) SegmentedActive() bool {
	return c.LargeLimit > c.InlineSize
}
