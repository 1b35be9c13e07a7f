// Package segment lays out and codes the per-segment metadata header that
// sits at the start of every block-heap segment. The layout mirrors how
// boro-db's heapfilemeta codes its own on-disk header (SerializeMetaData /
// DeserializeMetadat): fixed fields at fixed byte offsets, read and written
// with encoding/binary rather than an unsafe struct overlay.
package segment

import "encoding/binary"

// Field layout, all big-endian, all offsets relative to the segment's own
// base address:
//
//	0  magic       uint32
//	4  isFree      uint32 (0 or 1)
//	8  size        uint32 (blocks)
//	12 allocID     uint32
//	16 next        uint32 (offset from heap base, NoOffset = none)
//	20 prev        uint32 (offset from heap base, NoOffset = none)
//	24 headerGuard uint32 (integrity level >= 2 only)
//	28 checksum    uint32 (integrity level >= 2 only)
//	32 ...user data...
const (
	HeaderSize    = 24
	IntegritySize = 8
	// UserDataGap is the fixed distance from a segment's base address to the
	// user pointer it hands out. It equals HeaderSize+IntegritySize rounded
	// up to Alignment, but is kept a compile-time constant (rather than
	// computed from the live integrity level) so that pointer recovery never
	// depends on the integrity level in effect at allocation time.
	UserDataGap = 32

	offMagic       = 0
	offIsFree      = 4
	offSize        = 8
	offAllocID     = 12
	offNext        = 16
	offPrev        = 20
	offHeaderGuard = 24
	offChecksum    = 28
	// FooterGuardSize is the width of the trailing guard placed at the last
	// 4 bytes of a segment's block range when the integrity level is >= 3.
	FooterGuardSize = 4
)

// NoOffset marks an absent next/prev link, the list head's prev, and the
// list tail's next.
const NoOffset = ^uint32(0)

// Magic is the fixed sentinel marking a valid, uncorrupted header.
const Magic = 0xCAFEBABE

var order = binary.BigEndian

func Magic32(buf []byte, off uint32) uint32       { return order.Uint32(buf[off+offMagic:]) }
func SetMagic32(buf []byte, off uint32, v uint32) { order.PutUint32(buf[off+offMagic:], v) }

func IsFree(buf []byte, off uint32) bool {
	return order.Uint32(buf[off+offIsFree:]) != 0
}

func SetIsFree(buf []byte, off uint32, free bool) {
	v := uint32(0)
	if free {
		v = 1
	}
	order.PutUint32(buf[off+offIsFree:], v)
}

func Size(buf []byte, off uint32) uint32       { return order.Uint32(buf[off+offSize:]) }
func SetSize(buf []byte, off uint32, v uint32) { order.PutUint32(buf[off+offSize:], v) }

func AllocID(buf []byte, off uint32) uint32       { return order.Uint32(buf[off+offAllocID:]) }
func SetAllocID(buf []byte, off uint32, v uint32) { order.PutUint32(buf[off+offAllocID:], v) }

func Next(buf []byte, off uint32) uint32       { return order.Uint32(buf[off+offNext:]) }
func SetNext(buf []byte, off uint32, v uint32) { order.PutUint32(buf[off+offNext:], v) }

func Prev(buf []byte, off uint32) uint32       { return order.Uint32(buf[off+offPrev:]) }
func SetPrev(buf []byte, off uint32, v uint32) { order.PutUint32(buf[off+offPrev:], v) }

func HeaderGuard(buf []byte, off uint32) uint32       { return order.Uint32(buf[off+offHeaderGuard:]) }
func SetHeaderGuard(buf []byte, off uint32, v uint32) { order.PutUint32(buf[off+offHeaderGuard:], v) }

func Checksum(buf []byte, off uint32) uint32       { return order.Uint32(buf[off+offChecksum:]) }
func SetChecksum(buf []byte, off uint32, v uint32) { order.PutUint32(buf[off+offChecksum:], v) }

// ChecksumFields returns the packed record FNV-1a is computed over:
// {is_free, size, next, prev, allocation_id, magic}.
func ChecksumFields(buf []byte, off uint32) []byte {
	fields := make([]byte, 24)
	order.PutUint32(fields[0:], order.Uint32(buf[off+offIsFree:]))
	order.PutUint32(fields[4:], order.Uint32(buf[off+offSize:]))
	order.PutUint32(fields[8:], order.Uint32(buf[off+offNext:]))
	order.PutUint32(fields[12:], order.Uint32(buf[off+offPrev:]))
	order.PutUint32(fields[16:], order.Uint32(buf[off+offAllocID:]))
	order.PutUint32(fields[20:], order.Uint32(buf[off+offMagic:]))
	return fields
}

// UserOffset returns the byte offset of the user pointer for a segment
// based at off.
func UserOffset(off uint32) uint32 { return off + UserDataGap }

// FooterOffset returns the byte offset of the footer guard for a segment
// based at off with the given size in blocks.
func FooterOffset(off uint32, sizeBlocks uint32, blockSize uint32) uint32 {
	return off + sizeBlocks*blockSize - FooterGuardSize
}

// Init writes a fresh header at off: magic set, given free state and size,
// no neighbours, allocation id zeroed.
func Init(buf []byte, off uint32, free bool, sizeBlocks uint32) {
	SetMagic32(buf, off, Magic)
	SetIsFree(buf, off, free)
	SetSize(buf, off, sizeBlocks)
	SetAllocID(buf, off, 0)
	SetNext(buf, off, NoOffset)
	SetPrev(buf, off, NoOffset)
	SetHeaderGuard(buf, off, 0)
	SetChecksum(buf, off, 0)
}
