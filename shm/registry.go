// Copyright 2015 Aleksandr Demakin. All rights reserved.

package shm

import (
	"os"
	"sync"

	"github.com/shmbus/shmbus"
)

// entry is one process-local registry slot: a mapped Object shared by every
// Handle in this process that opened the same name, plus how many Handles
// are currently referencing it.
type entry struct {
	obj  *Object
	refs int
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*entry)
)

// Handle is a process-local reference to a registry entry. Multiple Opens
// of the same name within one process share a single mapping; each Handle
// must be Closed exactly once.
type Handle struct {
	name    string
	object  *Object
	created bool
	closed  bool
}

// Open acquires name through the process-local registry: the first Open in
// this process maps the region via Acquire, subsequent Opens reuse the
// mapping and just bump a local refcount. Each caller still gets its own
// Handle and must Close it independently of other holders.
func Open(name string, mode shmbus.OpenMode, payloadSize int, perm os.FileMode) (*Handle, error) {
	registryMu.Lock()
	if e, ok := registry[name]; ok {
		e.refs++
		registryMu.Unlock()
		return &Handle{name: name, object: e.obj}, nil
	}
	registryMu.Unlock()

	obj, err := Acquire(name, mode, payloadSize, perm)
	if err != nil {
		return nil, err
	}

	registryMu.Lock()
	if e, ok := registry[name]; ok {
		// Lost a race with another goroutine opening the same name: release
		// our own mapping (and the OS refcount it added) and reuse theirs.
		e.refs++
		registryMu.Unlock()
		obj.Release()
		return &Handle{name: name, object: e.obj}, nil
	}
	registry[name] = &entry{obj: obj, refs: 1}
	registryMu.Unlock()
	return &Handle{name: name, object: obj, created: obj.Created()}, nil
}

// Bytes returns the handle's payload region.
func (h *Handle) Bytes() []byte {
	return h.object.Bytes()
}

// Object returns the underlying shared-memory Object.
func (h *Handle) Object() *Object {
	return h.object
}

// Created reports whether this Handle's Open created the backing region
// (see Object.Created). A Handle that reused a mapping already held by this
// process reports false, so its caller attaches to the existing layout
// instead of reinitializing it.
func (h *Handle) Created() bool {
	return h.created
}

// Destroy implements shmbus.Destroyer: it is equivalent to Close.
func (h *Handle) Destroy() error {
	return h.Close()
}

// Close drops this Handle's stake in the registry entry. The underlying
// Object is released only once every Handle sharing it in this process has
// closed, at which point the cross-process refcount is also decremented.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	registryMu.Lock()
	e, ok := registry[h.name]
	if !ok {
		registryMu.Unlock()
		return h.object.Release()
	}
	e.refs--
	if e.refs > 0 {
		registryMu.Unlock()
		return nil
	}
	delete(registry, h.name)
	registryMu.Unlock()
	return e.obj.Release()
}
