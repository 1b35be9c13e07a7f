package allocator

import (
	"sync"

	"github.com/seiftnesse/memoryallocator/integrity"
	"github.com/seiftnesse/memoryallocator/provenance"
	"github.com/seiftnesse/memoryallocator/stats"
)

// SyncHeap wraps a Heap with an external *sync.RWMutex, serializing every
// call the way paging.Page's unused lock field hinted a caller might want
// to but never wired up. Heap already guards its own pools with an internal
// mutex; SyncHeap's lock instead protects callers who need a single
// exclusive section spanning more than one Heap call (read-modify-write
// sequences like "check fragmentation, then decide whether to realloc").
// Mutating calls take the write lock; read-only calls take the read lock.
type SyncHeap struct {
	lock *sync.RWMutex
	h    *Heap
}

// WithMutex returns a SyncHeap serializing access to h through lock. Passing
// the same lock to two SyncHeaps sharing one Heap lets unrelated code
// coordinate a critical section without reaching into Heap's internals.
func WithMutex(h *Heap, lock *sync.RWMutex) *SyncHeap {
	if lock == nil {
		lock = &sync.RWMutex{}
	}
	return &SyncHeap{lock: lock, h: h}
}

func (s *SyncHeap) Malloc(size uint32) Ptr {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.h.Malloc(size)
}

func (s *SyncHeap) MallocDebug(size uint32, file string, line int) Ptr {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.h.MallocDebug(size, file, line)
}

func (s *SyncHeap) Free(p Ptr) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.h.Free(p)
}

func (s *SyncHeap) Realloc(p Ptr, newSize uint32) Ptr {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.h.Realloc(p, newSize)
}

func (s *SyncHeap) HeapGetStats() stats.Snapshot {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.h.HeapGetStats()
}

func (s *SyncHeap) HeapGetFragmentation() float64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.h.HeapGetFragmentation()
}

func (s *SyncHeap) LookupProvenance(id uint64) (provenance.Site, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.h.LookupProvenance(id)
}

func (s *SyncHeap) HeapVerifyIntegrity(repair bool) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.h.HeapVerifyIntegrity(repair)
}

func (s *SyncHeap) HeapSetIntegrityCheckLevel(level integrity.Level) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.h.HeapSetIntegrityCheckLevel(level)
}

func (s *SyncHeap) HeapSetZeroOnFree(depth stats.ZeroDepth) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.h.HeapSetZeroOnFree(depth)
}

func (s *SyncHeap) HeapEnableDebug(enabled bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.h.HeapEnableDebug(enabled)
}

func (s *SyncHeap) HeapEnableTracking(enabled bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.h.HeapEnableTracking(enabled)
}

func (s *SyncHeap) HeapPrintStatus() {
	s.lock.RLock()
	defer s.lock.RUnlock()
	s.h.HeapPrintStatus()
}

// WithRLock runs fn while holding the read lock, letting a caller batch a
// handful of read-only Heap calls (stats, fragmentation, provenance lookups)
// into one consistent snapshot without an intervening writer.
func (s *SyncHeap) WithRLock(fn func(h *Heap)) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	fn(s.h)
}

// WithLock runs fn while holding the write lock, for callers that need to
// sequence multiple Heap mutations (e.g. Realloc-or-fall-back-to-Malloc) as
// one atomic unit.
func (s *SyncHeap) WithLock(fn func(h *Heap)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	fn(s.h)
}
