package allocator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/seiftnesse/memoryallocator/integrity"
	"github.com/seiftnesse/memoryallocator/segment"
	"github.com/seiftnesse/memoryallocator/stats"
)

func newTestHeap(t *testing.T) *Heap {
	h, err := NewHeap(Options{
		HeapSizeBytes:      1 << 20,
		SmallPoolSizeBytes: 1 << 16,
		BlockSizeBytes:     BlockSize,
		AlignmentBytes:     Alignment,
		ProvenanceCapacity: 16,
	})
	assert.Nil(t, err)
	t.Cleanup(h.Close)
	return h
}

func TestMallocSmallGoesToSmallPool(t *testing.T) {
	h := newTestHeap(t)

	p := h.Malloc(64)
	assert.False(t, p.IsNil())
	assert.True(t, p.tag.isSmall())
}

func TestMallocLargeGoesToBlockHeap(t *testing.T) {
	h := newTestHeap(t)

	p := h.Malloc(SmallAllocationThreshold + 1)
	assert.False(t, p.IsNil())
	assert.False(t, p.tag.isSmall())
}

func TestMallocZeroReturnsNil(t *testing.T) {
	h := newTestHeap(t)
	p := h.Malloc(0)
	assert.True(t, p.IsNil())
}

func TestFreeOfNilPtrIsNoop(t *testing.T) {
	h := newTestHeap(t)
	assert.NotPanics(t, func() { h.Free(Ptr{}) })
}

func TestReallocWithNilPtrBehavesAsMalloc(t *testing.T) {
	h := newTestHeap(t)
	p := h.Realloc(Ptr{}, 100)
	assert.False(t, p.IsNil())
}

func TestReallocWithZeroSizeBehavesAsFree(t *testing.T) {
	h := newTestHeap(t)
	p := h.Malloc(100)
	p2 := h.Realloc(p, 0)
	assert.True(t, p2.IsNil())
}

func TestStatsReflectAllocationsAndFrees(t *testing.T) {
	h := newTestHeap(t)

	p1 := h.Malloc(500)
	p2 := h.Malloc(64)

	snap := h.HeapGetStats()
	assert.Equal(t, uint64(2), snap.AllocationCount)

	h.Free(p1)
	h.Free(p2)

	snap = h.HeapGetStats()
	assert.Equal(t, uint64(0), snap.TotalAllocated)
}

func TestIntegrityVerificationDetectsAndRepairsCorruption(t *testing.T) {
	h := newTestHeap(t)
	h.HeapSetIntegrityCheckLevel(integrity.LevelThorough)

	p := h.Malloc(1000)
	assert.False(t, p.IsNil())

	errs := h.HeapVerifyIntegrity(false)
	assert.Equal(t, 0, errs)

	segOff := p.tag.offset() - segment.UserDataGap
	segment.SetChecksum(h.heapBuf, segOff, segment.Checksum(h.heapBuf, segOff)^0xFFFFFFFF)

	assert.Equal(t, 1, h.HeapVerifyIntegrity(true))
	assert.Equal(t, 0, h.HeapVerifyIntegrity(false))
}

func TestZeroOnFreeAppliesAcrossBothPools(t *testing.T) {
	h := newTestHeap(t)
	h.HeapSetZeroOnFree(stats.ZeroDeep)

	p := h.Malloc(50)
	off := p.tag.offset()
	for i := uint32(0); i < 50; i++ {
		h.smallPoolBuf[off+i] = 0xFF
	}
	h.Free(p)
	for i := uint32(0); i < 50; i++ {
		assert.Equal(t, byte(0), h.smallPoolBuf[off+i])
	}

	p2 := h.Malloc(2000)
	off2 := p2.tag.offset()
	for i := uint32(0); i < 2000; i++ {
		h.heapBuf[off2+i] = 0xFF
	}
	h.Free(p2)
	for i := uint32(0); i < 2000; i++ {
		assert.Equal(t, byte(0), h.heapBuf[off2+i])
	}
}

func TestMallocDebugTracksProvenanceWhenEnabled(t *testing.T) {
	h := newTestHeap(t)
	h.HeapEnableTracking(true)

	p := h.MallocDebug(100, "main.go", 42)
	assert.False(t, p.IsNil())

	site, ok := h.LookupProvenance(uint64(p.tag))
	assert.True(t, ok)
	assert.Equal(t, "main.go", site.File)
	assert.Equal(t, 42, site.Line)
}

func TestHeapPrintStatusDoesNotPanic(t *testing.T) {
	h := newTestHeap(t)
	h.Malloc(100)
	assert.NotPanics(t, func() { h.HeapPrintStatus() })
}

func TestFragmentationIncreasesWithScatteredFrees(t *testing.T) {
	h := newTestHeap(t)

	ptrs := make([]Ptr, 0, 8)
	for i := 0; i < 8; i++ {
		ptrs = append(ptrs, h.Malloc(SmallAllocationThreshold+100))
	}
	before := h.HeapGetFragmentation()
	for i := 0; i < 8; i += 2 {
		h.Free(ptrs[i])
	}

	frag := h.HeapGetFragmentation()
	assert.Greater(t, frag, before)
}
