// Package stats implements the allocator's statistics record and the
// zero-on-free policy, grounded on custom_alloc_stats.cpp's counters and
// custom_alloc_core.cpp's memset-based scrubbing.
package stats

import "sync"

// Record holds the running allocation counters. All increments/decrements are
// clamped so a bookkeeping mismatch (e.g. freeing more than was ever
// allocated through a path that bypassed accounting) never underflows or
// reports a negative count.
type Record struct {
	mu              sync.Mutex
	totalAllocated  uint64
	totalFreed      uint64
	allocationCount uint64
	peakAllocation  uint64
	smallPoolUsed   uint64
}

// Snapshot is a consistent, immutable copy of a Record at a point in time.
type Snapshot struct {
	TotalAllocated  uint64
	TotalFreed      uint64
	AllocationCount uint64
	PeakAllocation  uint64
	SmallPoolUsed   uint64
}

// RecordAlloc accounts for a new allocation of bytes bytes from either the
// block heap or the small pool.
// totalAllocated is the live/outstanding byte count, not a cumulative-ever
// counter, matching spec.md §3 Invariant 6 (it never exceeds the heap's
// capacity).
func (r *Record) RecordAlloc(bytes uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalAllocated += bytes
	r.allocationCount++
	if r.totalAllocated > r.peakAllocation {
		r.peakAllocation = r.totalAllocated
	}
}

// RecordFree accounts for a release of bytes bytes from either pool, subtracting
// from the live totalAllocated gauge and adding to the cumulative totalFreed
// counter, mirroring update_stats_free's total_allocated -= size alongside
// total_freed += size. Clamped: a free that would push totalAllocated
// negative instead saturates at zero.
func (r *Record) RecordFree(bytes uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if bytes > r.totalAllocated {
		bytes = r.totalAllocated
	}
	r.totalAllocated -= bytes
	r.totalFreed += bytes
	if r.allocationCount > 0 {
		r.allocationCount--
	}
}

// RecordResize adjusts totalAllocated by delta (positive for grow, negative
// for shrink) without touching allocationCount, for in-place realloc. This is
// the path that resolves the original's byte/block unit mismatch: callers
// must pass a byte delta, never a raw block count.
func (r *Record) RecordResize(delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if delta >= 0 {
		r.totalAllocated += uint64(delta)
		if r.totalAllocated > r.peakAllocation {
			r.peakAllocation = r.totalAllocated
		}
		return
	}
	shrink := uint64(-delta)
	if shrink > r.totalAllocated {
		shrink = r.totalAllocated
	}
	r.totalAllocated -= shrink
	r.totalFreed += shrink
}

// SetSmallPoolUsed overwrites the small-pool occupancy counter, which the
// small pool tracks itself (bitmap popcount) rather than via deltas.
func (r *Record) SetSmallPoolUsed(bytes uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.smallPoolUsed = bytes
}

func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		TotalAllocated:  r.totalAllocated,
		TotalFreed:      r.totalFreed,
		AllocationCount: r.allocationCount,
		PeakAllocation:  r.peakAllocation,
		SmallPoolUsed:   r.smallPoolUsed,
	}
}

// Fragmentation implements the 1 - 1/k estimate: k is the number of free
// segments currently on the block heap's free list. A heap with 0 or 1 free
// segments is not fragmented (0.0); every additional free segment raises the
// estimate, asymptotically approaching 1, independent of segment sizes.
func Fragmentation(freeSegmentCount uint64) float64 {
	if freeSegmentCount <= 1 {
		return 0
	}
	return 1 - 1/float64(freeSegmentCount)
}
