package sectorcache

import "fmt"

// Device is the block device underneath the cache. Sector addressing is
// absolute; the cache guarantees that startSector+count never exceeds the
// partition end it was constructed with. Implementations do not need to be
// safe for concurrent use — the cache is externally serialized and issues
// one call at a time.
type Device interface {
	// ReadSectors reads count sectors starting at startSector into buf.
	// buf is always count*bytesPerSector bytes.
	ReadSectors(startSector, count uint64, buf []byte) error

	// WriteSectors writes count sectors starting at startSector from buf.
	WriteSectors(startSector, count uint64, buf []byte) error
}

// MemDevice is an in-memory Device. It backs unit tests and scratch
// volumes; all data lives in a single byte slice.
type MemDevice struct {
	bytesPerSector int
	totalSectors   uint64
	data           []byte
}

// NewMemDevice creates a zero-filled in-memory device.
func NewMemDevice(totalSectors uint64, bytesPerSector int) *MemDevice {
	return &MemDevice{
		bytesPerSector: bytesPerSector,
		totalSectors:   totalSectors,
		data:           make([]byte, totalSectors*uint64(bytesPerSector)),
	}
}

// TotalSectors returns the device capacity in sectors.
func (d *MemDevice) TotalSectors() uint64 { return d.totalSectors }

// BytesPerSector returns the sector size in bytes.
func (d *MemDevice) BytesPerSector() int { return d.bytesPerSector }

// Bytes exposes the raw backing store. Callers must not resize it.
func (d *MemDevice) Bytes() []byte { return d.data }

func (d *MemDevice) ReadSectors(startSector, count uint64, buf []byte) error {
	if startSector+count > d.totalSectors || startSector+count < startSector {
		return fmt.Errorf("memdevice: read [%d,%d) beyond device end %d", startSector, startSector+count, d.totalSectors)
	}
	bps := uint64(d.bytesPerSector)
	copy(buf, d.data[startSector*bps:(startSector+count)*bps])
	return nil
}

func (d *MemDevice) WriteSectors(startSector, count uint64, buf []byte) error {
	if startSector+count > d.totalSectors || startSector+count < startSector {
		return fmt.Errorf("memdevice: write [%d,%d) beyond device end %d", startSector, startSector+count, d.totalSectors)
	}
	bps := uint64(d.bytesPerSector)
	copy(d.data[startSector*bps:(startSector+count)*bps], buf)
	return nil
}
