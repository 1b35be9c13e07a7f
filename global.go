package allocator

import (
	"sync"

	"github.com/seiftnesse/memoryallocator/integrity"
	"github.com/seiftnesse/memoryallocator/logging"
	"github.com/seiftnesse/memoryallocator/stats"
)

// The package-level functions below recreate the single global allocator
// instance spec.md §6 describes (HeapInit/Malloc/Free/...), lazily
// initialized on first use exactly as EnsureHeapInitialized lazily calls
// HeapInit(memory, HEAP_SIZE) in custom_alloc_core.cpp. Heap itself (above)
// is the reusable, test-friendly instance type the global wraps.
var (
	globalMu   sync.Mutex
	globalHeap *Heap
)

func ensureGlobalHeap() *Heap {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalHeap == nil {
		h, err := NewHeap(DefaultOptions())
		if err != nil {
			panic(err)
		}
		globalHeap = h
	}
	return globalHeap
}

// HeapInit (re)initializes the global allocator with opts. Safe to call
// before any allocation to customize sizing; otherwise the first Malloc call
// lazily initializes it with DefaultOptions(), matching
// EnsureHeapInitialized's implicit-init behavior.
func HeapInit(opts Options) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalHeap != nil {
		globalHeap.Close()
	}

	h, err := NewHeap(opts)
	if err != nil {
		return err
	}
	globalHeap = h
	return nil
}

func Malloc(size uint32) Ptr {
	return ensureGlobalHeap().Malloc(size)
}

func MallocDebug(size uint32, file string, line int) Ptr {
	return ensureGlobalHeap().MallocDebug(size, file, line)
}

func Free(p Ptr) {
	ensureGlobalHeap().Free(p)
}

func Realloc(p Ptr, newSize uint32) Ptr {
	return ensureGlobalHeap().Realloc(p, newSize)
}

func HeapEnableDebug(enabled bool) {
	ensureGlobalHeap().HeapEnableDebug(enabled)
}

func HeapEnableTracking(enabled bool) {
	ensureGlobalHeap().HeapEnableTracking(enabled)
}

func HeapGetStats() stats.Snapshot {
	return ensureGlobalHeap().HeapGetStats()
}

func HeapGetFragmentation() float64 {
	return ensureGlobalHeap().HeapGetFragmentation()
}

func HeapPrintStatus() {
	ensureGlobalHeap().HeapPrintStatus()
}

func HeapSetLogFunction(fn logging.Func) {
	ensureGlobalHeap().HeapSetLogFunction(fn)
}

func HeapEnableLogging(enabled bool) {
	ensureGlobalHeap().HeapEnableLogging(enabled)
}

func HeapSetZeroOnFree(depth stats.ZeroDepth) {
	ensureGlobalHeap().HeapSetZeroOnFree(depth)
}

func HeapSetIntegrityCheckLevel(level integrity.Level) {
	ensureGlobalHeap().HeapSetIntegrityCheckLevel(level)
}

func HeapVerifyIntegrity(repair bool) int {
	return ensureGlobalHeap().HeapVerifyIntegrity(repair)
}
