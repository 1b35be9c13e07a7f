package allocator

// Options configures a Heap, composed the way
// filesystem.FileSystemOptions embeds heap.HeapFileOptions in the teacher
// repo: region sizes, block size, alignment and provenance capacity up
// front. It carries no policy (debug, integrity level, zero-on-free) and no
// logger: NewHeap creates its own logger, and policy is set afterwards
// through the Heap's HeapEnable*/HeapSet* methods.
type Options struct {
	HeapSizeBytes      uint32
	SmallPoolSizeBytes uint32
	BlockSizeBytes     uint32
	AlignmentBytes     uint32

	ProvenanceCapacity int
}

// DefaultOptions mirrors the compile-time constants custom_alloc_internal.h
// hardcodes.
func DefaultOptions() Options {
	return Options{
		HeapSizeBytes:      HeapSize,
		SmallPoolSizeBytes: SmallPoolSize,
		BlockSizeBytes:     BlockSize,
		AlignmentBytes:     Alignment,
		ProvenanceCapacity: defaultProvenanceCapacity,
	}
}

func (o Options) withDefaults() Options {
	if o.HeapSizeBytes == 0 {
		o.HeapSizeBytes = HeapSize
	}
	if o.SmallPoolSizeBytes == 0 {
		o.SmallPoolSizeBytes = SmallPoolSize
	}
	if o.BlockSizeBytes == 0 {
		o.BlockSizeBytes = BlockSize
	}
	if o.AlignmentBytes == 0 {
		o.AlignmentBytes = Alignment
	}
	if o.ProvenanceCapacity == 0 {
		o.ProvenanceCapacity = defaultProvenanceCapacity
	}
	return o
}
