// Package integrity implements the optional segment-integrity subsystem:
// header/footer guards and an FNV-1a metadata checksum, with verify-and-repair
// semantics. It plays the role boro-db's utils/checksums package plays for
// heap-file pages, but FNV-1a (not CRC32) because that is what the allocator
// protocol specifies for segment metadata.
package integrity

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/seiftnesse/memoryallocator/segment"
)

// Guard sentinel values. HeaderGuardValue deliberately echoes the allocator's
// own SEGMENT_MAGIC family (0xDEADC0DE-class, per spec) so a corrupted guard
// is obviously distinguishable from a corrupted magic at a glance in a hex
// dump.
const (
	HeaderGuardValue = 0xDEADC0DE
	FooterGuardValue = 0xFEEDFACE
)

// Calculate computes the FNV-1a checksum of a segment's checksummed fields
// (is_free, size, next, prev, allocation_id, magic) and writes it into
// checkSumLocation. Mirrors the shape of utils/checksums.CalculateCRC:
// compute into a destination slice rather than returning a bare value.
func Calculate(checkSumLocation []byte, fields []byte) {
	h := fnv.New32a()
	_, _ = h.Write(fields)
	binary.BigEndian.PutUint32(checkSumLocation, h.Sum32())
}

// Compare reports whether two 4-byte checksum buffers are equal, matching
// utils/checksums.CompareCRC's calling convention.
func Compare(buffer1 []byte, buffer2 []byte) bool {
	return buffer1[0] == buffer2[0] && buffer1[1] == buffer2[1] &&
		buffer1[2] == buffer2[2] && buffer1[3] == buffer2[3]
}

// ComputeFor returns the FNV-1a checksum for the segment based at off.
func ComputeFor(buf []byte, off uint32) uint32 {
	dst := make([]byte, 4)
	Calculate(dst, segment.ChecksumFields(buf, off))
	return binary.BigEndian.Uint32(dst)
}
