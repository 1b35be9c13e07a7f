package blockheap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/seiftnesse/memoryallocator/integrity"
	"github.com/seiftnesse/memoryallocator/logging"
	"github.com/seiftnesse/memoryallocator/segment"
	"github.com/seiftnesse/memoryallocator/stats"
)

const testBlockSize = 4096
const testAlignment = 16

func newTestHeap(numBlocks uint32) (*Heap, *stats.Record) {
	buf := make([]byte, numBlocks*testBlockSize)
	rec := &stats.Record{}
	h := New(buf, testBlockSize, testAlignment, rec, logging.NewSink(nil))
	return h, rec
}

func TestMallocReturnsUsablePointerAndRoundTrips(t *testing.T) {
	h, _ := newTestHeap(4)

	userOff, ok := h.Malloc(100)
	assert.True(t, ok)

	segOff := userOff - segment.UserDataGap
	assert.False(t, segment.IsFree(h.buf, segOff))
	assert.Equal(t, uint32(segment.Magic), segment.Magic32(h.buf, segOff))
}

func TestMallocSplitsLargeFreeSegment(t *testing.T) {
	h, _ := newTestHeap(10)

	userOff, ok := h.Malloc(100)
	assert.True(t, ok)

	segOff := userOff - segment.UserDataGap
	next := segment.Next(h.buf, segOff)
	assert.NotEqual(t, segment.NoOffset, next)
	assert.True(t, segment.IsFree(h.buf, next))
}

func TestFreeThenMallocReusesSpace(t *testing.T) {
	h, _ := newTestHeap(4)

	userOff, _ := h.Malloc(100)
	ok := h.Free(userOff)
	assert.True(t, ok)

	userOff2, ok := h.Malloc(100)
	assert.True(t, ok)
	assert.Equal(t, userOff, userOff2)
}

func TestDoubleFreeIsRejected(t *testing.T) {
	h, _ := newTestHeap(4)

	userOff, _ := h.Malloc(100)
	assert.True(t, h.Free(userOff))
	assert.False(t, h.Free(userOff))
}

func TestFreeCoalescesAdjacentSegments(t *testing.T) {
	h, _ := newTestHeap(10)

	a, _ := h.Malloc(100)
	b, _ := h.Malloc(100)
	_, _ = h.Malloc(100)

	h.Free(a)
	h.Free(b)

	userOff, ok := h.Malloc(200)
	assert.True(t, ok)
	assert.Equal(t, a, userOff)
}

func TestWriteSurvivesRealloc(t *testing.T) {
	h, _ := newTestHeap(10)

	userOff, _ := h.Malloc(50)
	for i := 0; i < 50; i++ {
		h.buf[userOff+uint32(i)] = byte(i)
	}

	newOff, ok := h.Realloc(userOff, 200)
	assert.True(t, ok)

	for i := 0; i < 50; i++ {
		assert.Equal(t, byte(i), h.buf[newOff+uint32(i)])
	}
}

func TestReallocShrinkKeepsSamePointer(t *testing.T) {
	h, rec := newTestHeap(10)

	userOff, _ := h.Malloc(9000)
	before := rec.Snapshot()

	newOff, ok := h.Realloc(userOff, 50)
	assert.True(t, ok)
	assert.Equal(t, userOff, newOff)

	after := rec.Snapshot()
	assert.Less(t, after.TotalAllocated, before.TotalAllocated)
}

func TestReallocUnchangedSizeReturnsSamePointer(t *testing.T) {
	h, _ := newTestHeap(4)

	userOff, _ := h.Malloc(100)
	newOff, ok := h.Realloc(userOff, 100)
	assert.True(t, ok)
	assert.Equal(t, userOff, newOff)
}

func TestStatsConservationAcrossAllocFree(t *testing.T) {
	h, rec := newTestHeap(8)

	userOff, _ := h.Malloc(500)
	snap := rec.Snapshot()
	assert.Equal(t, uint64(1), snap.AllocationCount)
	assert.Greater(t, snap.TotalAllocated, uint64(0))
	allocated := snap.TotalAllocated

	h.Free(userOff)
	snap = rec.Snapshot()
	assert.Equal(t, allocated, snap.TotalFreed)
	assert.Equal(t, uint64(0), snap.TotalAllocated)
}

func TestIntegrityLevelThreeDetectsCorruption(t *testing.T) {
	h, _ := newTestHeap(4)
	h.SetIntegrityLevel(integrity.LevelThorough)

	userOff, ok := h.Malloc(100)
	assert.True(t, ok)

	segOff := userOff - segment.UserDataGap
	segment.SetSize(h.buf, segOff, segment.Size(h.buf, segOff)+5)

	res, _ := h.VerifyAll(false)
	assert.Greater(t, res.Errors, 0)
}

func TestIntegrityRepairFixesCorruption(t *testing.T) {
	h, _ := newTestHeap(4)
	h.SetIntegrityLevel(integrity.LevelStandard)

	userOff, _ := h.Malloc(100)
	segOff := userOff - segment.UserDataGap
	segment.SetHeaderGuard(h.buf, segOff, 0)

	res, _ := h.VerifyAll(true)
	assert.Greater(t, res.Repaired, 0)

	res, _ = h.VerifyAll(false)
	assert.Equal(t, 0, res.Errors)
}

func TestDebugModeRepairsMagicCorruptionDuringPointerRecovery(t *testing.T) {
	h, _ := newTestHeap(1)
	h.SetIntegrityLevel(integrity.LevelStandard)
	h.SetDebug(true)

	userOff, _ := h.Malloc(100)
	segOff := userOff - segment.UserDataGap
	segment.SetMagic32(h.buf, segOff, 0)

	assert.True(t, h.Free(userOff))
}

func TestDebugOffRejectsMagicCorruptionDuringPointerRecovery(t *testing.T) {
	h, _ := newTestHeap(1)
	h.SetIntegrityLevel(integrity.LevelStandard)

	userOff, _ := h.Malloc(100)
	segOff := userOff - segment.UserDataGap
	segment.SetMagic32(h.buf, segOff, 0)

	assert.False(t, h.Free(userOff))
}

func TestZeroOnFreeDeepScrubsUserData(t *testing.T) {
	h, _ := newTestHeap(4)
	h.SetZeroOnFreeDepth(stats.ZeroDeep)

	userOff, _ := h.Malloc(100)
	for i := 0; i < 100; i++ {
		h.buf[userOff+uint32(i)] = 0xAB
	}
	h.Free(userOff)

	for i := 0; i < 100; i++ {
		assert.Equal(t, byte(0), h.buf[userOff+uint32(i)])
	}
}

func TestBestFitPrefersSmallestSufficientSegment(t *testing.T) {
	h, _ := newTestHeap(20)

	a, _ := h.Malloc(100)
	b, _ := h.Malloc(4000)
	c, _ := h.Malloc(100)

	h.Free(a)
	h.Free(c)

	userOff, ok := h.Malloc(50)
	assert.True(t, ok)
	assert.True(t, userOff == a || userOff == c)
	_ = b
}

func TestFreeSegmentCountReflectsFragmentation(t *testing.T) {
	h, _ := newTestHeap(20)

	a, _ := h.Malloc(100)
	_, _ = h.Malloc(100)
	c, _ := h.Malloc(100)

	h.Free(a)
	h.Free(c)

	count := h.FreeSegmentCount()
	assert.GreaterOrEqual(t, count, uint64(2))
}
