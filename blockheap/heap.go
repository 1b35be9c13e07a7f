// Package blockheap implements the coalescing best-fit block heap: a
// contiguous, doubly-linked list of 4KiB-block segments searched with a
// last-free-segment hint, split via CutSegment and coalesced via
// MergeSegment. Grounded on custom_alloc_core.cpp's _malloc/_free/_realloc
// and custom_alloc_util.cpp's SearchFree/CutSegment/MergeSegment, styled
// after heap.fileSystemHeap's struct-plus-mutex-plus-logger shape.
package blockheap

import (
	"sync"

	"github.com/seiftnesse/memoryallocator/integrity"
	"github.com/seiftnesse/memoryallocator/logging"
	"github.com/seiftnesse/memoryallocator/segment"
	"github.com/seiftnesse/memoryallocator/stats"
)

// Heap is the block-heap allocator over a single fixed backing buffer.
type Heap struct {
	mu sync.Mutex

	buf       []byte
	blockSize uint32
	alignment uint32

	headOff     uint32
	hasLastFree bool
	lastFreeOff uint32

	nextAllocID uint32

	integrityLevel integrity.Level
	zeroDepth      stats.ZeroDepth
	debug          bool

	statsRec *stats.Record
	log      *logging.Sink
}

// New builds a Heap over buf, with a single free segment spanning the whole
// (alignment-adjusted) buffer, matching HeapInit.
func New(buf []byte, blockSize uint32, alignment uint32, statsRec *stats.Record, log *logging.Sink) *Heap {
	h := &Heap{
		buf:            buf,
		blockSize:      blockSize,
		alignment:      alignment,
		integrityLevel: integrity.LevelBasic,
		zeroDepth:      stats.ZeroNone,
		statsRec:       statsRec,
		log:            log,
	}
	h.reset()
	return h
}

func (h *Heap) reset() {
	base := alignUp(0, h.alignment)
	size := (uint32(len(h.buf)) - base) / h.blockSize
	segment.Init(h.buf, base, true, size)
	h.headOff = base
	h.lastFreeOff = base
	h.hasLastFree = true
	h.nextAllocID = 0
	integrity.Initialize(h.buf, base, h.integrityLevel, h.blockSize)
}

func (h *Heap) SetIntegrityLevel(level integrity.Level) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.integrityLevel = level
}

func (h *Heap) IntegrityLevel() integrity.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.integrityLevel
}

func (h *Heap) SetZeroOnFreeDepth(depth stats.ZeroDepth) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.zeroDepth = depth
}

// SetDebug toggles debug mode: when on, check_memory_corruption (the
// verifyAndMaybeRepair calls in searchFree, mergeSegment, and the
// pointer-recovery steps of Free/Realloc) actually repairs what it finds
// instead of only detecting it.
func (h *Heap) SetDebug(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.debug = enabled
}

// verifyAndMaybeRepair runs segment-integrity verification at off when
// integrity checking is on, repairing what it finds only in debug mode,
// matching check_memory_corruption's "if (!debug_mode) return" gate on
// repair while leaving plain detection level-gated only.
func (h *Heap) verifyAndMaybeRepair(off uint32) {
	if h.integrityLevel <= integrity.LevelDisabled {
		return
	}
	res := integrity.VerifySegment(h.buf, off, h.integrityLevel, h.debug, uint32(len(h.buf)), h.blockSize)
	if h.debug && res.Errors > 0 {
		h.log.Printf("block heap: corruption check at offset %d found %d errors, repaired %d", off, res.Errors, res.Repaired)
	}
}

func alignUp(off uint32, alignment uint32) uint32 {
	if alignment == 0 {
		return off
	}
	return (off + alignment - 1) &^ (alignment - 1)
}

// GetNumBlocks converts a byte size to a block count, rounding up, saturating
// rather than overflowing on absurd sizes.
func GetNumBlocks(size uint32, blockSize uint32) uint32 {
	maxU32 := ^uint32(0)
	if size > maxU32-blockSize {
		return maxU32 / blockSize
	}
	return (size + blockSize - 1) / blockSize
}

func (h *Heap) overheadBlocks() uint32 {
	return GetNumBlocks(segment.UserDataGap+h.alignment, h.blockSize)
}

// searchFree performs the best-fit scan starting at startOff, returning
// early on a perfect-size match exactly like SearchFree.
func (h *Heap) searchFree(startOff uint32, required uint32) (uint32, bool) {
	bestOff := segment.NoOffset
	var bestSize uint32 = ^uint32(0)

	off := startOff
	for off != segment.NoOffset {
		if segment.IsFree(h.buf, off) {
			size := segment.Size(h.buf, off)
			if size >= required {
				h.verifyAndMaybeRepair(off)
				if size < bestSize {
					bestOff = off
					bestSize = size
					if size == required {
						return bestOff, true
					}
				}
			}
		}
		off = segment.Next(h.buf, off)
	}

	return bestOff, bestOff != segment.NoOffset
}

// cutSegment tail-splits off's trailing cutBlocks blocks into a new segment,
// leaving off holding the head (now smaller) portion. Returns the new tail
// segment's offset, or NoOffset if off isn't big enough to cut.
func (h *Heap) cutSegment(off uint32, cutBlocks uint32) uint32 {
	size := segment.Size(h.buf, off)
	if size <= cutBlocks {
		return segment.NoOffset
	}

	tailOff := alignUp(off+(size-cutBlocks)*h.blockSize, h.alignment)
	free := segment.IsFree(h.buf, off)
	next := segment.Next(h.buf, off)

	segment.SetSize(h.buf, off, size-cutBlocks)

	segment.Init(h.buf, tailOff, free, cutBlocks)
	segment.SetPrev(h.buf, tailOff, off)
	segment.SetNext(h.buf, tailOff, next)
	if next != segment.NoOffset {
		segment.SetPrev(h.buf, next, tailOff)
	}
	segment.SetNext(h.buf, off, tailOff)

	integrity.Initialize(h.buf, off, h.integrityLevel, h.blockSize)
	integrity.Initialize(h.buf, tailOff, h.integrityLevel, h.blockSize)

	return tailOff
}

// mergeSegment folds secondOff into firstOff (which must immediately
// precede it), returning firstOff.
func (h *Heap) mergeSegment(firstOff uint32, secondOff uint32) uint32 {
	h.verifyAndMaybeRepair(firstOff)
	h.verifyAndMaybeRepair(secondOff)

	if h.hasLastFree && h.lastFreeOff == secondOff {
		h.lastFreeOff = firstOff
	}

	firstSize := segment.Size(h.buf, firstOff)
	secondSize := segment.Size(h.buf, secondOff)
	segment.SetSize(h.buf, firstOff, firstSize+secondSize)

	next := segment.Next(h.buf, secondOff)
	segment.SetNext(h.buf, firstOff, next)
	if next != segment.NoOffset {
		segment.SetPrev(h.buf, next, firstOff)
	}

	segment.SetMagic32(h.buf, secondOff, 0)

	integrity.Initialize(h.buf, firstOff, h.integrityLevel, h.blockSize)

	return firstOff
}

// Malloc allocates at least size bytes, returning the byte offset of the
// user pointer. ok is false if no sufficiently large free segment exists.
func (h *Heap) Malloc(size uint32) (uint32, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mallocLocked(size)
}

func (h *Heap) mallocLocked(size uint32) (uint32, bool) {
	if size == 0 {
		return 0, false
	}

	required := GetNumBlocks(size+segment.UserDataGap+h.alignment, h.blockSize)

	found := segment.NoOffset
	if h.hasLastFree {
		if off, ok := h.searchFree(h.lastFreeOff, required); ok {
			found = off
		}
	}
	if found == segment.NoOffset {
		if off, ok := h.searchFree(h.headOff, required); ok {
			found = off
		}
	}
	if found == segment.NoOffset {
		h.log.Printf("block heap: no segment found for %d bytes (%d blocks)", size, required)
		return 0, false
	}

	segment.SetIsFree(h.buf, found, false)
	h.nextAllocID++
	segment.SetAllocID(h.buf, found, h.nextAllocID)

	curSize := segment.Size(h.buf, found)
	if curSize > required+1 {
		remaining := h.cutSegment(found, curSize-required)
		segment.SetIsFree(h.buf, remaining, true)
		integrity.Initialize(h.buf, remaining, h.integrityLevel, h.blockSize)
		h.lastFreeOff = remaining
		h.hasLastFree = true
	} else if h.hasLastFree && h.lastFreeOff == found {
		h.hasLastFree = false
	}

	integrity.Initialize(h.buf, found, h.integrityLevel, h.blockSize)

	finalSize := segment.Size(h.buf, found)
	if h.statsRec != nil {
		h.statsRec.RecordAlloc(uint64(finalSize) * uint64(h.blockSize))
	}

	return segment.UserOffset(found), true
}

// Owns reports whether userOff lies within this heap's buffer and at a
// position a user pointer could legitimately occupy.
func (h *Heap) Owns(userOff uint32) bool {
	return userOff >= segment.UserDataGap && userOff < uint32(len(h.buf))
}

// Free releases the allocation at userOff. Returns false on a detectably
// invalid pointer (bad magic) or a double-free, both silently ignored by
// the caller per spec's null/silent-tolerance taxonomy.
func (h *Heap) Free(userOff uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freeLocked(userOff)
}

func (h *Heap) freeLocked(userOff uint32) bool {
	off := userOff - segment.UserDataGap
	if off >= uint32(len(h.buf)) {
		return false
	}
	h.verifyAndMaybeRepair(off)
	if segment.Magic32(h.buf, off) != segment.Magic {
		h.log.Printf("block heap: free of invalid pointer at offset %d", userOff)
		return false
	}
	if segment.IsFree(h.buf, off) {
		h.log.Printf("block heap: double free detected at offset %d", userOff)
		return false
	}

	size := segment.Size(h.buf, off)
	if h.zeroDepth != stats.ZeroNone {
		total := size * h.blockSize
		if total > segment.UserDataGap {
			stats.ZeroFill(h.buf[userOff:off+total], h.zeroDepth)
		}
	}

	if h.statsRec != nil {
		h.statsRec.RecordFree(uint64(size) * uint64(h.blockSize))
	}

	segment.SetIsFree(h.buf, off, true)
	integrity.Initialize(h.buf, off, h.integrityLevel, h.blockSize)
	h.lastFreeOff = off
	h.hasLastFree = true

	cur := off
	if next := segment.Next(h.buf, cur); next != segment.NoOffset && segment.IsFree(h.buf, next) {
		cur = h.mergeSegment(cur, next)
	}
	if prev := segment.Prev(h.buf, cur); prev != segment.NoOffset && segment.IsFree(h.buf, prev) {
		cur = h.mergeSegment(prev, cur)
	}

	h.lastFreeOff = cur
	h.hasLastFree = true
	return true
}

// Realloc resizes the allocation at userOff to newSize, trying (in order)
// no-op, in-place shrink, in-place grow via a free right-hand neighbour, and
// finally allocate-copy-free.
func (h *Heap) Realloc(userOff uint32, newSize uint32) (uint32, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	off := userOff - segment.UserDataGap
	if off >= uint32(len(h.buf)) {
		return 0, false
	}
	h.verifyAndMaybeRepair(off)
	if segment.Magic32(h.buf, off) != segment.Magic || segment.IsFree(h.buf, off) {
		return 0, false
	}

	required := GetNumBlocks(newSize+segment.UserDataGap+h.alignment, h.blockSize)
	curSize := segment.Size(h.buf, off)

	if curSize == required {
		return userOff, true
	}

	minSplit := h.overheadBlocks()

	if curSize > required {
		if curSize > required+minSplit {
			remaining := h.cutSegment(off, curSize-required)
			segment.SetIsFree(h.buf, remaining, true)
			integrity.Initialize(h.buf, remaining, h.integrityLevel, h.blockSize)
			if next := segment.Next(h.buf, remaining); next != segment.NoOffset && segment.IsFree(h.buf, next) {
				h.mergeSegment(remaining, next)
			}
			h.lastFreeOff = remaining
			h.hasLastFree = true
			if h.statsRec != nil {
				h.statsRec.RecordResize(-int64(curSize-required) * int64(h.blockSize))
			}
		}
		return userOff, true
	}

	if next := segment.Next(h.buf, off); next != segment.NoOffset && segment.IsFree(h.buf, next) &&
		curSize+segment.Size(h.buf, next) >= required {
		oldSize := curSize
		merged := h.mergeSegment(off, next)
		size := segment.Size(h.buf, merged)
		if size > required+minSplit {
			remaining := h.cutSegment(merged, size-required)
			segment.SetIsFree(h.buf, remaining, true)
			integrity.Initialize(h.buf, remaining, h.integrityLevel, h.blockSize)
			h.lastFreeOff = remaining
			h.hasLastFree = true
			size = segment.Size(h.buf, merged)
		}
		integrity.Initialize(h.buf, merged, h.integrityLevel, h.blockSize)
		if h.statsRec != nil {
			h.statsRec.RecordResize(int64(size-oldSize) * int64(h.blockSize))
		}
		return segment.UserOffset(merged), true
	}

	newUserOff, ok := h.mallocLocked(newSize)
	if !ok {
		return 0, false
	}

	oldUserDataSize := curSize*h.blockSize - segment.UserDataGap
	copySize := oldUserDataSize
	if newSize < copySize {
		copySize = newSize
	}
	copy(h.buf[newUserOff:newUserOff+copySize], h.buf[userOff:userOff+copySize])

	h.freeLocked(userOff)
	return newUserOff, true
}

// FreeSegmentCount walks the segment list and counts free segments, the k
// term in the fragmentation estimate.
func (h *Heap) FreeSegmentCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := uint64(0)
	off := h.headOff
	for off != segment.NoOffset {
		if segment.IsFree(h.buf, off) {
			count++
		}
		off = segment.Next(h.buf, off)
	}
	return count
}

// VerifyAll runs integrity verification across every segment in the list.
func (h *Heap) VerifyAll(repair bool) (integrity.Result, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return integrity.VerifyHeap(h.buf, h.headOff, h.integrityLevel, repair, uint32(len(h.buf)), h.blockSize)
}
