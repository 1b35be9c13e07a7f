package allocator

// Fixed compile-time parameters, matching custom_alloc_internal.h's #define
// block (HEAP_SIZE, BLOCK_SIZE, ALIGNMENT, SMALL_ALLOCATION_THRESHOLD,
// SMALL_BLOCK_SIZE, SMALL_POOL_SIZE, SEGMENT_MAGIC).
const (
	HeapSize                 = 64 * 1024 * 1024
	BlockSize                = 0x1000
	Alignment                = 16
	SmallAllocationThreshold = 256
	SmallBlockSize           = 32
	SmallPoolSize            = 1024 * 1024
	SegmentMagic             = 0xCAFEBABE

	// defaultProvenanceCapacity bounds the malloc_debug site tracker.
	defaultProvenanceCapacity = 4096
)
