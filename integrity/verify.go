package integrity

import (
	"encoding/binary"

	"github.com/seiftnesse/memoryallocator/segment"
)

var order = binary.BigEndian

// Level names the four segment-integrity check depths.
type Level int

const (
	LevelDisabled Level = 0
	LevelBasic    Level = 1
	LevelStandard Level = 2
	LevelThorough Level = 3
)

// MaxReasonableBlocks bounds a segment's size field during sanity checks.
// Not present in the retrieved header; sized as HeapSize/BlockSize so any
// single segment spanning the whole heap is still "reasonable".
const MaxReasonableBlocks = 64 * 1024 * 1024 / 4096

// Result accumulates what VerifySegment found and, if repair was requested,
// fixed.
type Result struct {
	Errors   int
	Repaired int
}

func (r Result) merge(other Result) Result {
	return Result{Errors: r.Errors + other.Errors, Repaired: r.Repaired + other.Repaired}
}

// VerifySegment checks the segment based at off against level, optionally
// repairing in place. heapLen bounds the heap-range check at level 3.
// blockSize is needed to locate the footer guard.
func VerifySegment(buf []byte, off uint32, level Level, repair bool, heapLen uint32, blockSize uint32) Result {
	var res Result

	if segment.Magic32(buf, off) != segment.Magic {
		res.Errors++
		if repair {
			segment.SetMagic32(buf, off, segment.Magic)
			res.Repaired++
		}
	}

	size := segment.Size(buf, off)
	if size == 0 || size > MaxReasonableBlocks {
		res.Errors++
		if repair {
			next := segment.Next(buf, off)
			if next != segment.NoOffset && next > off {
				corrected := (next - off) / blockSize
				if corrected > 0 && corrected <= MaxReasonableBlocks {
					segment.SetSize(buf, off, corrected)
					size = corrected
					res.Repaired++
				}
			}
		}
	}

	if level < LevelStandard {
		return res
	}

	expected := ComputeFor(buf, off)
	if segment.HeaderGuard(buf, off) != HeaderGuardValue {
		res.Errors++
		if repair {
			segment.SetHeaderGuard(buf, off, HeaderGuardValue)
			res.Repaired++
		}
	}

	var got, want [4]byte
	order.PutUint32(got[:], segment.Checksum(buf, off))
	order.PutUint32(want[:], expected)
	if !Compare(got[:], want[:]) {
		res.Errors++
		if repair {
			segment.SetChecksum(buf, off, expected)
			res.Repaired++
		}
	}

	if level < LevelThorough {
		return res
	}

	if size > 0 && size <= MaxReasonableBlocks {
		footerOff := segment.FooterOffset(off, size, blockSize)
		end := off + size*blockSize
		if end > heapLen || end > uint32(len(buf)) {
			// The size field claims blocks past the end of the heap, so the
			// footer guard cannot be read.
			res.Errors++
		} else if footerOff > off && footerOff+segment.FooterGuardSize <= end {
			got := order.Uint32(buf[footerOff:])
			if got != FooterGuardValue {
				res.Errors++
				if repair {
					order.PutUint32(buf[footerOff:], FooterGuardValue)
					res.Repaired++
				}
			}
		}
	}

	next := segment.Next(buf, off)
	if next != segment.NoOffset {
		if segment.Prev(buf, next) != off {
			res.Errors++
			if repair {
				segment.SetPrev(buf, next, off)
				res.Repaired++
			}
		}
	}
	prev := segment.Prev(buf, off)
	if prev != segment.NoOffset {
		if segment.Next(buf, prev) != off {
			res.Errors++
			if repair {
				segment.SetNext(buf, prev, off)
				res.Repaired++
			}
		}
	}

	if off >= heapLen {
		res.Errors++
		// Out-of-bounds segment address cannot be repaired.
	}

	return res
}

// Initialize writes header-guard and checksum fields for a freshly created
// or mutated segment, matching initialize_segment_integrity's gating: a
// no-op below LevelStandard, and it also stamps the footer guard at
// LevelThorough.
func Initialize(buf []byte, off uint32, level Level, blockSize uint32) {
	if level < LevelStandard {
		return
	}
	segment.SetHeaderGuard(buf, off, HeaderGuardValue)
	segment.SetChecksum(buf, off, ComputeFor(buf, off))

	if level >= LevelThorough {
		size := segment.Size(buf, off)
		if size > 0 && size <= MaxReasonableBlocks {
			footerOff := segment.FooterOffset(off, size, blockSize)
			if footerOff > off {
				order.PutUint32(buf[footerOff:], FooterGuardValue)
			}
		}
	}
}

// VerifyHeap walks the segment list starting at headOff and verifies every
// segment, returning the aggregate result plus the segment count.
func VerifyHeap(buf []byte, headOff uint32, level Level, repair bool, heapLen uint32, blockSize uint32) (Result, int) {
	var total Result
	count := 0
	off := headOff
	for off != segment.NoOffset {
		total = total.merge(VerifySegment(buf, off, level, repair, heapLen, blockSize))
		count++
		off = segment.Next(buf, off)
	}
	return total, count
}
