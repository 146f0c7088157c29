// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package pool implements LargeMsgPool: a size-classed freelist of
// shared-memory chunks backing the large-pool transport path for payloads
// above the segmented-transport threshold. Each size class is a lock-free
// stack of chunk indices (package internal/stack); an entry's refcount,
// initialized from popcount(readersMask), lives in shared memory and is
// decremented only by Release, so a chunk returns to its freelist only
// after every reference has been released.
package pool
