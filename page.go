package sectorcache

import "math/bits"

// freeSector marks an unused page slot. It can never collide with a real
// base sector because bases are clamped below the partition end.
const freeSector = ^uint64(0)

// bufferAlign is the alignment of page buffers and the alignment a caller
// buffer must have to qualify for the direct-transfer bypass.
const bufferAlign = 32

// page is one slot of the page table: a run of sectorsPerPage sectors
// starting at base, with per-sector dirty tracking.
type page struct {
	base       uint64 // first cached sector, or freeSector
	count      uint32 // valid sectors from base; < sectorsPerPage at partition end
	lastAccess uint32 // access-clock stamp; 0 when free
	dirty      uint64 // bit i set = sector base+i has unflushed writes
	buf        []byte // sectorsPerPage*bytesPerSector bytes, 32-byte aligned
}

// reset returns the page to the free state. The buffer is kept.
func (pg *page) reset() {
	pg.base = freeSector
	pg.count = 0
	pg.lastAccess = 0
	pg.dirty = 0
}

// dirtySpan returns the minimal contiguous run covering every set dirty
// bit: the first dirty sector's index within the page and the run length
// up to and including the last dirty sector. Must not be called with a
// zero mask.
func (pg *page) dirtySpan() (first, n uint64) {
	first = uint64(bits.TrailingZeros64(pg.dirty))
	n = uint64(bits.Len64(pg.dirty)) - first
	return first, n
}

// alignedBuf allocates a size-byte slice whose first byte is bufferAlign
// aligned. The Go allocator gives no alignment guarantee above the word
// size, so over-allocate and slice to the boundary.
func alignedBuf(size int) []byte {
	raw := make([]byte, size+bufferAlign-1)
	off := 0
	if r := int(sliceAddr(raw) % bufferAlign); r != 0 {
		off = bufferAlign - r
	}
	return raw[off : off+size : off+size]
}
