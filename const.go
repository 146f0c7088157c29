// Copyright 2015 Aleksandr Demakin. All rights reserved.

package shmbus

// OpenMode selects how a named shared-memory object is opened by
// shm.Acquire. Exactly one of the Open* constants must be set.
type OpenMode int

const (
	// OpenOrCreate attaches to an existing object, creating it if absent.
	OpenOrCreate OpenMode = iota
	// CreateOnly fails if the object already exists.
	CreateOnly
	// OpenOnly fails if the object does not exist.
	OpenOnly
)
