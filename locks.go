package cachecompress

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const keyLockStripes = 64

// keyLocks serialises work on the same key without a lock per key.
type keyLocks struct {
	stripes [keyLockStripes]sync.Mutex
}

func newKeyLocks() *keyLocks { return &keyLocks{} }

func (l *keyLocks) lock(key string) func() {
	mu := &l.stripes[xxhash.Sum64String(key)%keyLockStripes]
	mu.Lock()
	return mu.Unlock
}
