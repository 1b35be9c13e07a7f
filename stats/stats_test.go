package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordAllocTracksPeak(t *testing.T) {
	var r Record
	r.RecordAlloc(100)
	r.RecordAlloc(50)
	snap := r.Snapshot()
	assert.Equal(t, uint64(150), snap.TotalAllocated)
	assert.Equal(t, uint64(150), snap.PeakAllocation)
	assert.Equal(t, uint64(2), snap.AllocationCount)
}

func TestRecordFreeClampsAtTotalAllocated(t *testing.T) {
	var r Record
	r.RecordAlloc(100)
	r.RecordFree(1000)
	snap := r.Snapshot()
	assert.Equal(t, uint64(100), snap.TotalFreed)
	assert.Equal(t, uint64(0), snap.AllocationCount)
}

func TestRecordResizeShrinkAndGrow(t *testing.T) {
	var r Record
	r.RecordAlloc(100)
	r.RecordResize(50)
	assert.Equal(t, uint64(150), r.Snapshot().TotalAllocated)

	r.RecordResize(-70)
	snap := r.Snapshot()
	assert.Equal(t, uint64(80), snap.TotalAllocated)
	assert.Equal(t, uint64(70), snap.TotalFreed)
}

func TestFragmentationEstimate(t *testing.T) {
	assert.Equal(t, 0.0, Fragmentation(0))
	assert.Equal(t, 0.0, Fragmentation(1))
	assert.InDelta(t, 0.5, Fragmentation(2), 1e-9)
	assert.InDelta(t, 0.75, Fragmentation(4), 1e-9)
}
