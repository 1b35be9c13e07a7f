// Package smallpool implements the bitmap-backed small-object allocator: a
// flat run of fixed-size blocks with one bit per block tracking occupancy,
// found via a first-fit consecutive-run scan. Grounded on
// custom_alloc_small.cpp's allocate_small/free_small/is_small_allocation and
// styled after boro-db's utils/freelist bitmap (one bit per addressable
// unit, byte-slice backed).
package smallpool

import (
	"sync"

	"github.com/seiftnesse/memoryallocator/stats"
)

type Pool struct {
	mu sync.Mutex

	buf       []byte
	blockSize uint32
	bitmap    []uint32

	zeroDepth stats.ZeroDepth
	debug     bool
	statsRec  *stats.Record
}

func New(buf []byte, blockSize uint32, statsRec *stats.Record) *Pool {
	numBlocks := uint32(len(buf)) / blockSize
	words := (numBlocks + 31) / 32
	return &Pool{
		buf:       buf,
		blockSize: blockSize,
		bitmap:    make([]uint32, words),
		statsRec:  statsRec,
	}
}

func (p *Pool) SetZeroOnFreeDepth(depth stats.ZeroDepth) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.zeroDepth = depth
}

// SetDebug toggles debug mode. The bitmap pool has no checksum to repair,
// so its check_memory_corruption equivalent is a pointer-recovery sanity
// check: Free refuses a misaligned offset instead of trusting it, mirroring
// check_memory_corruption's "detect, and act on it under debug mode" shape
// with the small pool's own tools.
func (p *Pool) SetDebug(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.debug = enabled
}

func (p *Pool) numBlocks() uint32 {
	return uint32(len(p.buf)) / p.blockSize
}

func (p *Pool) isSet(block uint32) bool {
	return p.bitmap[block/32]&(1<<(block%32)) != 0
}

func (p *Pool) set(block uint32) {
	p.bitmap[block/32] |= 1 << (block % 32)
}

func (p *Pool) clear(block uint32) {
	p.bitmap[block/32] &^= 1 << (block % 32)
}

// Alloc finds the first run of consecutive free blocks covering size bytes
// and marks them used, returning the byte offset into buf. ok is false if no
// such run exists.
func (p *Pool) Alloc(size uint32) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	blocksNeeded := (size + p.blockSize - 1) / p.blockSize
	total := p.numBlocks()

	run := uint32(0)
	start := uint32(0)

	for i := uint32(0); i < total; i++ {
		if !p.isSet(i) {
			if run == 0 {
				start = i
			}
			run++
			if run >= blocksNeeded {
				for j := uint32(0); j < blocksNeeded; j++ {
					p.set(start + j)
				}
				allocSize := uint64(blocksNeeded) * uint64(p.blockSize)
				if p.statsRec != nil {
					p.statsRec.RecordAlloc(allocSize)
					p.statsRec.SetSmallPoolUsed(p.usedBytesLocked())
				}
				return start * p.blockSize, true
			}
		} else {
			run = 0
		}
	}

	return 0, false
}

// RunLen returns the byte length of the allocated run starting at offset, by
// scanning the bitmap forward from the start block until the first clear
// bit. The run length is not stored anywhere else, matching
// is_small_allocation/free_small's own block-scan-until-free approach.
func (p *Pool) RunLen(offset uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runBlocksLocked(offset) * p.blockSize
}

func (p *Pool) runBlocksLocked(offset uint32) uint32 {
	startBlock := offset / p.blockSize
	total := p.numBlocks()

	blocks := uint32(0)
	for startBlock+blocks < total && p.isSet(startBlock+blocks) {
		blocks++
	}
	return blocks
}

// Free releases the run of blocks starting at the block containing offset,
// stopping at the first already-free block (the run length is not stored
// anywhere else, matching free_small's block-scan-until-free approach).
func (p *Pool) Free(offset uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debug && offset%p.blockSize != 0 {
		return
	}

	startBlock := offset / p.blockSize
	blocksToFree := p.runBlocksLocked(offset)
	if blocksToFree == 0 {
		return
	}

	freedSize := blocksToFree * p.blockSize
	if p.zeroDepth != stats.ZeroNone {
		end := offset + freedSize
		if end > uint32(len(p.buf)) {
			end = uint32(len(p.buf))
		}
		stats.ZeroFill(p.buf[offset:end], p.zeroDepth)
	}

	for j := uint32(0); j < blocksToFree; j++ {
		p.clear(startBlock + j)
	}

	if p.statsRec != nil {
		p.statsRec.RecordFree(uint64(freedSize))
		p.statsRec.SetSmallPoolUsed(p.usedBytesLocked())
	}
}

func (p *Pool) usedBytesLocked() uint64 {
	used := uint64(0)
	total := p.numBlocks()
	for i := uint32(0); i < total; i++ {
		if p.isSet(i) {
			used++
		}
	}
	return used * uint64(p.blockSize)
}

// Owns reports whether offset falls within this pool's backing buffer.
func (p *Pool) Owns(offset uint32) bool {
	return offset < p.Len()
}

// Len returns the pool's backing buffer size in bytes.
func (p *Pool) Len() uint32 {
	return uint32(len(p.buf))
}
