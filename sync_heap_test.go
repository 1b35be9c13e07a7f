package allocator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithMutexSerializesMallocAndFree(t *testing.T) {
	h := newTestHeap(t)
	sh := WithMutex(h, nil)

	p := sh.Malloc(128)
	assert.False(t, p.IsNil())

	sh.Free(p)
	snap := sh.HeapGetStats()
	assert.Equal(t, uint64(0), snap.TotalAllocated)
}

func TestWithMutexSharesCallerSuppliedLock(t *testing.T) {
	h := newTestHeap(t)
	lock := &sync.RWMutex{}
	sh := WithMutex(h, lock)
	assert.Same(t, lock, sh.lock)

	lock.Lock()
	locked := true
	lock.Unlock()
	_ = locked

	p := sh.Malloc(64)
	assert.False(t, p.IsNil())
	sh.Free(p)
}

func TestWithLockSequencesReallocOrMalloc(t *testing.T) {
	h := newTestHeap(t)
	sh := WithMutex(h, nil)

	var result Ptr
	sh.WithLock(func(h *Heap) {
		p := h.Malloc(64)
		newP := h.Realloc(p, 256)
		if newP.IsNil() {
			newP = h.Malloc(256)
		}
		result = newP
	})

	assert.False(t, result.IsNil())
}

func TestWithRLockBatchesStatsAndFragmentation(t *testing.T) {
	h := newTestHeap(t)
	sh := WithMutex(h, nil)

	p := sh.Malloc(64)
	assert.False(t, p.IsNil())

	var snapAllocated uint64
	var frag float64
	sh.WithRLock(func(h *Heap) {
		snapAllocated = h.HeapGetStats().TotalAllocated
		frag = h.HeapGetFragmentation()
	})

	assert.Greater(t, snapAllocated, uint64(0))
	assert.GreaterOrEqual(t, frag, 0.0)
}
