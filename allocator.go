// Package allocator is the public entry point: a dual-pool in-process
// dynamic memory allocator combining a bitmap small-object pool with a
// coalescing best-fit block heap, modeled on custom_alloc_core.cpp's
// _malloc/_free/_realloc dispatch and styled after boro-db's
// filesystem.FileSystem composition of a heap plus options plus logger.
package allocator

import (
	"fmt"
	"sync"

	"github.com/phuslu/log"

	"github.com/seiftnesse/memoryallocator/blockheap"
	"github.com/seiftnesse/memoryallocator/integrity"
	"github.com/seiftnesse/memoryallocator/logging"
	"github.com/seiftnesse/memoryallocator/provenance"
	"github.com/seiftnesse/memoryallocator/smallpool"
	"github.com/seiftnesse/memoryallocator/stats"
)

// Heap is a fully self-contained allocator instance. Unlike
// custom_alloc_core.cpp's process-wide globals, state here is instance-scoped
// so tests (and, eventually, multiple allocator instances) don't collide;
// the package-level HeapInit/Malloc/... wrappers below recreate the global
// singleton surface spec.md §6 actually specifies.
type Heap struct {
	mu sync.Mutex

	heapBuf       []byte
	releaseHeap   func()
	smallPoolBuf  []byte
	releaseSmall  func()

	block *blockheap.Heap
	small *smallpool.Pool

	stats      stats.Record
	provenance *provenance.Tracker

	logger  *log.Logger
	sink    *logging.Sink
	debug   bool
	tracking bool
}

// NewHeap creates and initializes a Heap per opts, acquiring its backing
// regions via acquireRegion (mmap on unix, plain slices elsewhere).
func NewHeap(opts Options) (*Heap, error) {
	opts = opts.withDefaults()

	heapBuf, releaseHeap, err := acquireRegion(int(opts.HeapSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("acquire heap region: %w", err)
	}
	smallBuf, releaseSmall, err := acquireRegion(int(opts.SmallPoolSizeBytes))
	if err != nil {
		releaseHeap()
		return nil, fmt.Errorf("acquire small pool region: %w", err)
	}

	h := &Heap{
		heapBuf:      heapBuf,
		releaseHeap:  releaseHeap,
		smallPoolBuf: smallBuf,
		releaseSmall: releaseSmall,
		logger:       logging.CreateDebugLogger(),
		provenance:   provenance.NewTracker(opts.ProvenanceCapacity),
	}
	h.sink = logging.NewSink(h.logger)

	h.block = blockheap.New(h.heapBuf, opts.BlockSizeBytes, opts.AlignmentBytes, &h.stats, h.sink)
	h.small = smallpool.New(h.smallPoolBuf, SmallBlockSize, &h.stats)

	return h, nil
}

// Close releases the backing regions. Not part of spec.md's surface (the
// original never returns memory to the OS) but necessary so Go tests don't
// leak mmap'd regions across the suite.
func (h *Heap) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.releaseHeap != nil {
		h.releaseHeap()
		h.releaseHeap = nil
	}
	if h.releaseSmall != nil {
		h.releaseSmall()
		h.releaseSmall = nil
	}
}

// taggedOffset packs which pool owns a returned offset into the high bit
// (bit 63) so Free/Realloc can dispatch without a pointer range scan on every
// call: 0 for the block heap, 1 for the small pool. Mirrors is_small_allocation's
// intent (classify by origin) without relying on raw address comparison,
// since both pools are independent Go slices rather than adjacent regions
// of one address space.
type taggedOffset uint64

const smallPoolTag = uint64(1) << 63

func tagSmall(off uint32) taggedOffset  { return taggedOffset(uint64(off) | smallPoolTag) }
func tagBlock(off uint32) taggedOffset  { return taggedOffset(uint64(off)) }
func (t taggedOffset) isSmall() bool    { return uint64(t)&smallPoolTag != 0 }
func (t taggedOffset) offset() uint32   { return uint32(uint64(t) &^ smallPoolTag) }

// Ptr is an opaque handle to an allocation, returned by Malloc/Realloc and
// consumed by Free/Realloc/Read/Write. It replaces the original's raw void*
// since there is no single backing address space spanning both pools.
type Ptr struct {
	tag   taggedOffset
	valid bool
}

// IsNil reports whether p is the zero value, the Go analogue of a NULL
// pointer from Malloc/Realloc.
func (p Ptr) IsNil() bool { return !p.valid }

// Malloc allocates at least size bytes, trying the small pool first for
// requests at or under SmallAllocationThreshold and falling back to the
// block heap exactly as _malloc does.
func (h *Heap) Malloc(size uint32) Ptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mallocLocked(size)
}

func (h *Heap) mallocLocked(size uint32) Ptr {
	if size == 0 {
		return Ptr{}
	}

	if size <= SmallAllocationThreshold {
		if off, ok := h.small.Alloc(size); ok {
			return Ptr{tag: tagSmall(off), valid: true}
		}
		h.sink.Printf("small pool exhausted for %d bytes, falling back to block heap", size)
	}

	off, ok := h.block.Malloc(size)
	if !ok {
		return Ptr{}
	}
	return Ptr{tag: tagBlock(off), valid: true}
}

// MallocDebug is Malloc plus provenance capture, active only when tracking
// is enabled via HeapEnableTracking.
func (h *Heap) MallocDebug(size uint32, file string, line int) Ptr {
	h.mu.Lock()
	p := h.mallocLocked(size)
	tracking := h.tracking
	h.mu.Unlock()

	if tracking && p.valid {
		h.provenance.Record(uint64(p.tag), provenance.Site{File: file, Line: line})
	}
	return p
}

// Free releases p. A nil/invalid Ptr, a double-free, or a corrupted header
// are all silently ignored, matching spec.md §7's null/silent-tolerance
// taxonomy.
func (h *Heap) Free(p Ptr) {
	if !p.valid {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.tag.isSmall() {
		if !h.small.Owns(p.tag.offset()) {
			return
		}
		h.small.Free(p.tag.offset())
	} else {
		if !h.block.Owns(p.tag.offset()) {
			return
		}
		h.block.Free(p.tag.offset())
	}
	h.provenance.Forget(uint64(p.tag))
}

// Realloc resizes p to newSize, matching _realloc's special cases: a nil Ptr
// behaves as Malloc, a zero newSize behaves as Free, and the small pool
// always reallocates via allocate-copy-free since its bitmap has no
// in-place-grow path.
func (h *Heap) Realloc(p Ptr, newSize uint32) Ptr {
	if !p.valid {
		return h.Malloc(newSize)
	}
	if newSize == 0 {
		h.Free(p)
		return Ptr{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if newSize > uint32(len(h.heapBuf))/2 {
		h.sink.Printf("realloc refused: requested %d bytes exceeds half the heap", newSize)
		return Ptr{}
	}

	if p.tag.isSmall() {
		if !h.small.Owns(p.tag.offset()) {
			return Ptr{}
		}
		return h.reallocSmallLocked(p, newSize)
	}

	if !h.block.Owns(p.tag.offset()) {
		return Ptr{}
	}
	off, ok := h.block.Realloc(p.tag.offset(), newSize)
	if !ok {
		return Ptr{}
	}
	return Ptr{tag: tagBlock(off), valid: true}
}

func (h *Heap) reallocSmallLocked(p Ptr, newSize uint32) Ptr {
	oldOff := p.tag.offset()
	oldSize := h.small.RunLen(oldOff)

	newPtr := h.mallocLocked(newSize)
	if !newPtr.valid {
		return Ptr{}
	}

	copySize := newSize
	if oldSize < copySize {
		copySize = oldSize
	}

	if newPtr.tag.isSmall() {
		copy(h.smallPoolBuf[newPtr.tag.offset():newPtr.tag.offset()+copySize], h.smallPoolBuf[oldOff:oldOff+copySize])
	} else {
		off := newPtr.tag.offset()
		copy(h.heapBuf[off:off+copySize], h.smallPoolBuf[oldOff:oldOff+copySize])
	}

	h.small.Free(oldOff)
	return newPtr
}

// HeapEnableDebug toggles the allocator's internal debug logger verbosity and
// check_memory_corruption's auto-repair-on-operation behavior in the block
// heap and small pool, independent of the caller-installed status sink (see
// HeapEnableLogging).
func (h *Heap) HeapEnableDebug(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.debug = enabled
	if enabled {
		h.logger.Level = log.DebugLevel
	} else {
		h.logger.Level = log.InfoLevel
	}
	h.sink.SetDebug(enabled)
	h.block.SetDebug(enabled)
	h.small.SetDebug(enabled)
}

// HeapEnableTracking turns allocation-site capture (MallocDebug) on or off.
func (h *Heap) HeapEnableTracking(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tracking = enabled
}

// LookupProvenance reports the file:line an id was allocated from via
// MallocDebug, when tracking was enabled at allocation time and the id
// hasn't since been freed or evicted from the bounded tracker.
func (h *Heap) LookupProvenance(id uint64) (provenance.Site, bool) {
	return h.provenance.Lookup(id)
}

// HeapSetIntegrityCheckLevel sets the segment-integrity depth (0-3) applied
// by the block heap on every mutation and by HeapVerifyIntegrity.
func (h *Heap) HeapSetIntegrityCheckLevel(level integrity.Level) {
	h.block.SetIntegrityLevel(level)
}

// HeapSetZeroOnFree sets the zero-on-free scrub depth applied uniformly to
// both pools.
func (h *Heap) HeapSetZeroOnFree(depth stats.ZeroDepth) {
	h.block.SetZeroOnFreeDepth(depth)
	h.small.SetZeroOnFreeDepth(depth)
}

// HeapSetLogFunction installs fn as the caller-controlled status sink.
func (h *Heap) HeapSetLogFunction(fn logging.Func) {
	h.sink.SetFunc(fn)
}

// HeapEnableLogging gates the installed log function independently of
// HeapEnableDebug, resolving spec.md's noted ambiguity in favor of two
// separate switches.
func (h *Heap) HeapEnableLogging(enabled bool) {
	h.sink.SetEnabled(enabled)
}

// HeapVerifyIntegrity walks every block-heap segment, optionally repairing
// detected corruption, and returns the number of errors found.
func (h *Heap) HeapVerifyIntegrity(repair bool) int {
	res, _ := h.block.VerifyAll(repair)
	return res.Errors
}

// HeapGetStats returns a consistent snapshot of the allocation counters.
func (h *Heap) HeapGetStats() stats.Snapshot {
	return h.stats.Snapshot()
}

// HeapGetFragmentation returns the 1-1/k block-heap fragmentation estimate.
func (h *Heap) HeapGetFragmentation() float64 {
	return stats.Fragmentation(h.block.FreeSegmentCount())
}

// HeapPrintStatus formats a multi-line status report, grounded on
// custom_alloc_stats.cpp's dump, and routes it through the installed log
// sink when logging is enabled; otherwise it goes to the internal logger
// only while debug mode is on, and is dropped when debug mode is off.
func (h *Heap) HeapPrintStatus() {
	snap := h.HeapGetStats()
	frag := h.HeapGetFragmentation()

	h.sink.Printf(
		"allocator status: allocations=%d allocated=%d freed=%d outstanding=%d peak=%d small_pool_used=%d fragmentation=%.4f debug=%t tracking=%t",
		snap.AllocationCount, snap.TotalAllocated, snap.TotalFreed,
		snap.TotalAllocated, snap.PeakAllocation, snap.SmallPoolUsed,
		frag, h.debug, h.tracking,
	)

	if !h.tracking {
		return
	}
	h.sink.Printf("=== active allocations ===")
	h.provenance.ForEach(func(id uint64, site provenance.Site) {
		h.sink.Printf("id=%d location=%s:%d", id, site.File, site.Line)
	})
}
