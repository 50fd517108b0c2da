// Package sectorcache provides a sector-granular block cache that sits
// between filesystem code and a block device.
//
// The cache coalesces small and partial-sector I/O onto fixed-size
// multi-sector pages, tracks dirty sectors with a per-page bitmask, and
// writes modified data back as one minimal contiguous span per page. Large
// transfers that are page-aligned and land on uncached ranges bypass the
// page table entirely and stream straight to the device.
//
// Replacement is least-recently-used over a small fixed page table: every
// touch stamps the page from a per-cache access clock, and misses evict
// the page with the oldest stamp. Free slots are always preferred.
//
// A Cache is not safe for concurrent use. The intended caller is a volume
// layer that already serializes all filesystem operations behind its own
// lock; the cache adds no locking of its own.
//
//	dev := sectorcache.NewMemDevice(1<<16, 512)
//	c, _ := sectorcache.New(8, 64, dev, dev.TotalSectors(), 512)
//	defer c.Close()
//
//	buf := make([]byte, 512)
//	c.ReadPartialSector(buf, 63, 0, 512)
package sectorcache

import (
	"errors"
	"fmt"
)

// Geometry limits. The dirty mask is one 64-bit word, so a page can never
// exceed 64 sectors; below 32 the per-page overhead stops paying off.
const (
	minPages          = 4
	minSectorsPerPage = 32
	maxSectorsPerPage = 64
)

// ErrOutOfRange is returned when a requested sector range extends past the
// end of the partition the cache was constructed with.
var ErrOutOfRange = errors.New("sectorcache: sector range beyond end of partition")

// ErrShortBuffer is returned when the caller's buffer cannot hold the
// requested transfer.
var ErrShortBuffer = errors.New("sectorcache: buffer too small for transfer")

// Stats are cumulative operation counters. They are plain fields — reading
// them mid-operation from another goroutine is as unsupported as every
// other concurrent use of the cache.
type Stats struct {
	Hits            uint64 // getPage found the sector resident
	Misses          uint64 // getPage had to (re)load a page
	Evictions       uint64 // a loaded page was repurposed for another range
	Writebacks      uint64 // dirty spans written to the device
	BypassedSectors uint64 // sectors streamed directly, no page involved
	Flushes         uint64 // Flush calls (including via Close/Invalidate)
}

// Cache is a sector cache over a Device. Create one with New and release
// it with Close; Close flushes all dirty pages first.
type Cache struct {
	dev            Device
	endOfPartition uint64 // exclusive upper bound on sector indices
	sectorsPerPage uint32
	bytesPerSector uint32
	pages          []page
	clock          uint32 // access clock; wraps after ~4e9 touches
	stats          Stats
}

// New creates a cache of numberOfPages pages of sectorsPerPage sectors
// over dev. endOfPartition is the exclusive bound on sector indices;
// bytesPerSector is the device sector size. numberOfPages is raised to at
// least 4 and sectorsPerPage clamped into [32, 64]. Zero values and a nil
// device are rejected.
//
// The cache holds dev by reference; dev must outlive the cache.
func New(numberOfPages, sectorsPerPage int, dev Device, endOfPartition uint64, bytesPerSector int) (*Cache, error) {
	if dev == nil {
		return nil, errors.New("sectorcache: nil device")
	}
	if numberOfPages <= 0 || sectorsPerPage <= 0 || bytesPerSector <= 0 || endOfPartition == 0 {
		return nil, fmt.Errorf("sectorcache: invalid geometry (pages=%d sectorsPerPage=%d bytesPerSector=%d endOfPartition=%d)",
			numberOfPages, sectorsPerPage, bytesPerSector, endOfPartition)
	}

	if numberOfPages < minPages {
		numberOfPages = minPages
	}
	if sectorsPerPage < minSectorsPerPage {
		sectorsPerPage = minSectorsPerPage
	} else if sectorsPerPage > maxSectorsPerPage {
		sectorsPerPage = maxSectorsPerPage
	}

	c := &Cache{
		dev:            dev,
		endOfPartition: endOfPartition,
		sectorsPerPage: uint32(sectorsPerPage),
		bytesPerSector: uint32(bytesPerSector),
		pages:          make([]page, numberOfPages),
	}
	pageBytes := sectorsPerPage * bytesPerSector
	for i := range c.pages {
		c.pages[i].base = freeSector
		c.pages[i].buf = alignedBuf(pageBytes)
	}
	return c, nil
}

// Close flushes all dirty pages and releases the cache. The device stays
// open — it is owned by the caller.
func (c *Cache) Close() error {
	err := c.Flush()
	c.pages = nil
	return err
}

// SectorsPerPage returns the page size in sectors after clamping.
func (c *Cache) SectorsPerPage() int { return int(c.sectorsPerPage) }

// BytesPerSector returns the sector size the cache was built with.
func (c *Cache) BytesPerSector() int { return int(c.bytesPerSector) }

// Stats returns a snapshot of the operation counters.
func (c *Cache) Stats() Stats { return c.stats }

// touch advances the access clock and returns the new stamp.
func (c *Cache) touch() uint32 {
	c.clock++
	return c.clock
}

// checkRange validates that [sector, sector+count) lies inside the
// partition and that buf can hold the transfer.
func (c *Cache) checkRange(sector, count uint64, buf []byte) error {
	end := sector + count
	if end < sector || end > c.endOfPartition {
		return ErrOutOfRange
	}
	if uint64(len(buf)) < count*uint64(c.bytesPerSector) {
		return ErrShortBuffer
	}
	return nil
}

// writeback writes a page's dirty span — the minimal contiguous run from
// the first to the last dirty sector — to the device in one call, then
// clears the mask. Clean sectors inside the span are rewritten with the
// data already held for them; one device call beats several.
func (c *Cache) writeback(pg *page) error {
	first, n := pg.dirtySpan()
	bps := uint64(c.bytesPerSector)
	if err := c.dev.WriteSectors(pg.base+first, n, pg.buf[first*bps:(first+n)*bps]); err != nil {
		return err
	}
	pg.dirty = 0
	c.stats.Writebacks++
	return nil
}

// getPage returns the page holding sector, loading it into a victim slot
// on a miss. numSectors is the number of sectors the caller is about to
// access from sector onward; with forWrite set it is treated as a pending
// contiguous overwrite, and the load skips reading whatever the overwrite
// fully covers (the whole page, or its leading/trailing edge).
//
// On a miss the victim is the free slot found first, else the loaded page
// with the oldest access stamp. A dirty victim is written back before
// reuse; if that write fails the victim is left untouched (still dirty,
// still resident) so the caller can retry. If the page load itself fails,
// the slot is reset to free.
func (c *Cache) getPage(sector, numSectors uint64, forWrite bool) (*page, error) {
	var (
		foundFree bool
		victim    int
		oldest    = uint32(^uint32(0))
	)

	for i := range c.pages {
		pg := &c.pages[i]
		if pg.base != freeSector && sector >= pg.base && sector < pg.base+uint64(pg.count) {
			pg.lastAccess = c.touch()
			c.stats.Hits++
			return pg, nil
		}
		if !foundFree && (pg.base == freeSector || pg.lastAccess < oldest) {
			if pg.base == freeSector {
				foundFree = true
			}
			victim = i
			oldest = pg.lastAccess
		}
	}

	pg := &c.pages[victim]
	c.stats.Misses++
	if !foundFree {
		if pg.dirty != 0 {
			if err := c.writeback(pg); err != nil {
				return nil, fmt.Errorf("write back page at sector %d: %w", pg.base, err)
			}
		}
		c.stats.Evictions++
	}

	spp := uint64(c.sectorsPerPage)
	base := sector / spp * spp
	offset := sector - base
	count := c.endOfPartition - base
	if count > spp {
		count = spp
	}
	if numSectors > count-offset {
		numSectors = count - offset
	}

	pg.base = base
	pg.count = uint32(count)

	// Skip loading sectors the caller is about to overwrite. A full-page
	// overwrite needs no read at all; an overwrite flush against either
	// page edge needs only the other segment. Interior overwrites read
	// the whole page.
	readFrom := uint64(0)
	readCount := count
	if forWrite {
		switch {
		case offset == 0 && numSectors == readCount:
			pg.dirty = 0
			pg.lastAccess = c.touch()
			return pg, nil
		case offset == 0:
			readFrom = numSectors
			readCount -= numSectors
		case offset+numSectors == readCount:
			readCount -= numSectors
		}
	}

	bps := uint64(c.bytesPerSector)
	if err := c.dev.ReadSectors(base+readFrom, readCount, pg.buf[readFrom*bps:(readFrom+readCount)*bps]); err != nil {
		pg.reset()
		return nil, fmt.Errorf("load page at sector %d: %w", base, err)
	}

	pg.dirty = 0
	pg.lastAccess = c.touch()
	return pg, nil
}

// findPage returns the loaded page whose range intersects
// [sector, sector+count) with the smallest base, or nil. The bypass path
// uses it to bound how far it may stream before running into cached data.
func (c *Cache) findPage(sector, count uint64) *page {
	var best *page
	lowest := freeSector

	for i := range c.pages {
		pg := &c.pages[i]
		if pg.base == freeSector {
			continue
		}
		var intersect bool
		if sector > pg.base {
			intersect = sector-pg.base < uint64(pg.count)
		} else {
			intersect = pg.base-sector < count
		}
		if intersect && pg.base < lowest {
			lowest = pg.base
			best = pg
		}
	}
	return best
}

// bypassSectors reports how many sectors starting at the page-aligned
// sector may be transferred directly to or from the device without going
// through a page: whole pages up to the first cached range, or zero when
// a cached range begins at or before sector.
func (c *Cache) bypassSectors(sector, numSectors uint64) uint64 {
	pg := c.findPage(sector, numSectors)
	spp := uint64(c.sectorsPerPage)
	switch {
	case pg == nil:
		return numSectors / spp * spp
	case pg.base > sector:
		return pg.base - sector
	default:
		return 0
	}
}

// ReadSectors reads numSectors sectors starting at sector into buf.
// Page-aligned stretches with a 32-byte-aligned destination that touch no
// cached range are read straight from the device; everything else goes
// through the page table.
func (c *Cache) ReadSectors(sector, numSectors uint64, buf []byte) error {
	if err := c.checkRange(sector, numSectors, buf); err != nil {
		return err
	}

	bps := uint64(c.bytesPerSector)
	spp := uint64(c.sectorsPerPage)
	dst := buf

	for numSectors > 0 {
		if sliceAddr(dst)%bufferAlign == 0 && sector%spp == 0 {
			if n := c.bypassSectors(sector, numSectors); n > 0 {
				if err := c.dev.ReadSectors(sector, n, dst[:n*bps]); err != nil {
					return fmt.Errorf("read %d sectors at %d: %w", n, sector, err)
				}
				c.stats.BypassedSectors += n
				dst = dst[n*bps:]
				sector += n
				numSectors -= n
				continue
			}
		}

		pg, err := c.getPage(sector, numSectors, false)
		if err != nil {
			return err
		}
		off := sector - pg.base
		n := uint64(pg.count) - off
		if n > numSectors {
			n = numSectors
		}
		copy(dst[:n*bps], pg.buf[off*bps:(off+n)*bps])

		dst = dst[n*bps:]
		sector += n
		numSectors -= n
	}
	return nil
}

// WriteSectors writes numSectors sectors starting at sector from buf.
// The bypass rule mirrors ReadSectors — bypassed data goes straight to
// the device and is never marked dirty. Cached writes set the dirty bits
// for the touched sectors; the device sees them on eviction or Flush.
func (c *Cache) WriteSectors(sector, numSectors uint64, buf []byte) error {
	if err := c.checkRange(sector, numSectors, buf); err != nil {
		return err
	}

	bps := uint64(c.bytesPerSector)
	spp := uint64(c.sectorsPerPage)
	src := buf

	for numSectors > 0 {
		if sliceAddr(src)%bufferAlign == 0 && sector%spp == 0 {
			if n := c.bypassSectors(sector, numSectors); n > 0 {
				if err := c.dev.WriteSectors(sector, n, src[:n*bps]); err != nil {
					return fmt.Errorf("write %d sectors at %d: %w", n, sector, err)
				}
				c.stats.BypassedSectors += n
				src = src[n*bps:]
				sector += n
				numSectors -= n
				continue
			}
		}

		pg, err := c.getPage(sector, numSectors, true)
		if err != nil {
			return err
		}
		off := sector - pg.base
		n := uint64(pg.count) - off
		if n > numSectors {
			n = numSectors
		}
		copy(pg.buf[off*bps:(off+n)*bps], src[:n*bps])
		pg.dirty |= (1<<n - 1) << off

		src = src[n*bps:]
		sector += n
		numSectors -= n
	}
	return nil
}

// Flush writes every dirty page back to the device, one contiguous span
// per page. The first device failure aborts the flush; pages not yet
// written keep their dirty state so a retry can pick them up.
func (c *Cache) Flush() error {
	c.stats.Flushes++
	for i := range c.pages {
		pg := &c.pages[i]
		if pg.dirty == 0 {
			continue
		}
		if err := c.writeback(pg); err != nil {
			return fmt.Errorf("flush page at sector %d: %w", pg.base, err)
		}
	}
	return nil
}

// Invalidate flushes, then drops every page. Page buffers are retained
// for reuse; only their contents are forgotten. The flush error, if any,
// is returned — the pages are dropped regardless, so a failed flush
// loses the unwritten dirty data.
func (c *Cache) Invalidate() error {
	err := c.Flush()
	for i := range c.pages {
		c.pages[i].reset()
	}
	return err
}
