package vfs

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// inoAllocator hands out stable inode numbers for namespace nodes. Freed
// numbers are recorded so the allocated set stays exact for stats and
// liveness checks.
type inoAllocator struct {
	mu        sync.Mutex
	allocated *roaring64.Bitmap
	next      uint64
}

func newInoAllocator() *inoAllocator {
	a := &inoAllocator{allocated: roaring64.New(), next: 2}
	a.allocated.Add(1) // root
	return a
}

func (a *inoAllocator) alloc() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	ino := a.next
	a.next++
	a.allocated.Add(ino)
	return ino
}

func (a *inoAllocator) free(ino uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allocated.Remove(ino)
}

func (a *inoAllocator) count() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated.GetCardinality()
}

func (a *inoAllocator) live(ino uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated.Contains(ino)
}
