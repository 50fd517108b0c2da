package sectorcache

import (
	"encoding/binary"
	"errors"
)

// ErrPartialBounds is returned when offset+size exceeds the sector size.
var ErrPartialBounds = errors.New("sectorcache: partial access exceeds sector bounds")

// ErrBadWidth is returned for little-endian accesses of a width other
// than 1, 2, or 4 bytes.
var ErrBadWidth = errors.New("sectorcache: unsupported little-endian width")

func (c *Cache) checkPartial(buf []byte, sector uint64, offset, size int) error {
	if offset < 0 || size < 0 || offset+size > int(c.bytesPerSector) {
		return ErrPartialBounds
	}
	if len(buf) < size {
		return ErrShortBuffer
	}
	if sector >= c.endOfPartition {
		return ErrOutOfRange
	}
	return nil
}

// ReadPartialSector reads size bytes at offset within sector into buf.
// The sector's page is faulted in if needed. offset+size must not exceed
// the sector size.
func (c *Cache) ReadPartialSector(buf []byte, sector uint64, offset, size int) error {
	if err := c.checkPartial(buf, sector, offset, size); err != nil {
		return err
	}
	pg, err := c.getPage(sector, 1, false)
	if err != nil {
		return err
	}
	pos := (sector - pg.base) * uint64(c.bytesPerSector)
	copy(buf[:size], pg.buf[pos+uint64(offset):])
	return nil
}

// WritePartialSector writes size bytes from buf at offset within sector
// and marks the sector dirty. The rest of the sector is preserved, so the
// page load always reads the sector's current contents first.
func (c *Cache) WritePartialSector(buf []byte, sector uint64, offset, size int) error {
	if err := c.checkPartial(buf, sector, offset, size); err != nil {
		return err
	}
	pg, err := c.getPage(sector, 1, false)
	if err != nil {
		return err
	}
	pos := (sector - pg.base) * uint64(c.bytesPerSector)
	copy(pg.buf[pos+uint64(offset):], buf[:size])
	pg.dirty |= 1 << (sector - pg.base)
	return nil
}

// EraseWritePartialSector zero-fills the whole target sector within its
// page, then writes size bytes from buf at offset and marks the sector
// dirty. Callers use it for "the rest of this sector must read as zero"
// semantics. Only the one target sector is erased, never the rest of the
// page.
func (c *Cache) EraseWritePartialSector(buf []byte, sector uint64, offset, size int) error {
	if err := c.checkPartial(buf, sector, offset, size); err != nil {
		return err
	}
	pg, err := c.getPage(sector, 1, true)
	if err != nil {
		return err
	}
	bps := uint64(c.bytesPerSector)
	pos := (sector - pg.base) * bps
	clear(pg.buf[pos : pos+bps])
	copy(pg.buf[pos+uint64(offset):], buf[:size])
	pg.dirty |= 1 << (sector - pg.base)
	return nil
}

// ReadLittleEndian reads a 1, 2, or 4-byte little-endian unsigned value
// at offset within sector.
func (c *Cache) ReadLittleEndian(sector uint64, offset, width int) (uint32, error) {
	var buf [4]byte
	switch width {
	case 1, 2, 4:
	default:
		return 0, ErrBadWidth
	}
	if err := c.ReadPartialSector(buf[:width], sector, offset, width); err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint32(buf[0]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(buf[:2])), nil
	default:
		return binary.LittleEndian.Uint32(buf[:4]), nil
	}
}

// WriteLittleEndian writes a 1, 2, or 4-byte little-endian unsigned value
// at offset within sector.
func (c *Cache) WriteLittleEndian(value uint32, sector uint64, offset, width int) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	switch width {
	case 1, 2, 4:
		return c.WritePartialSector(buf[:width], sector, offset, width)
	default:
		return ErrBadWidth
	}
}

// ReadSector reads one whole sector through the cache.
func (c *Cache) ReadSector(buf []byte, sector uint64) error {
	return c.ReadPartialSector(buf, sector, 0, int(c.bytesPerSector))
}

// WriteSector writes one whole sector through the cache.
func (c *Cache) WriteSector(buf []byte, sector uint64) error {
	return c.WritePartialSector(buf, sector, 0, int(c.bytesPerSector))
}
