// Package imagefile implements the flat disk-image container the tools
// operate on: a fixed 512-byte header followed by raw sector data.
//
// Layout of the header region:
//
//	Offset  Size  Field
//	──────  ────  ───────────────────
//	0       8     Magic            [8]byte "SECIMG\x00\x00"
//	8       4     FormatVersion    uint32 LE
//	12      4     BytesPerSector   uint32 LE
//	16      8     TotalSectors     uint64 LE
//	24      8     FeatureFlags     uint64 LE (bitmask)
//	32      16    ImageID          UUID (RFC 4122 bytes)
//	48      4     CRC32-C          uint32 LE, over [0:48) with this field zeroed
//	52      460   Reserved         zero-filled
//
// An Image satisfies the cache's Device contract, so a cache can be placed
// directly on top of one.
package imagefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/google/uuid"
)

const (
	// Magic identifies a valid image file.
	Magic = "SECIMG\x00\x00"

	// CurrentFormatVersion is the on-disk format version.
	CurrentFormatVersion uint32 = 1

	// HeaderSize is the reserved header region; sector data starts here.
	HeaderSize = 512

	magicOff   = 0
	versionOff = 8
	bpsOff     = 12
	sectorsOff = 16
	flagsOff   = 24
	idOff      = 32
	crcOff     = 48
)

// FeatureFlag is a bitmask of optional format features. Version 1 defines
// none; any set flag causes the file to be rejected.
type FeatureFlag uint64

// crcTable is the CRC32 (Castagnoli) table used for the header checksum.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ErrBadImage is returned when a file is not a valid image (wrong magic,
// version, flags, checksum, or truncated data region).
var ErrBadImage = errors.New("imagefile: not a valid image file")

// Image is an open disk image. It is not safe for concurrent use.
type Image struct {
	f              *os.File
	path           string
	id             uuid.UUID
	bytesPerSector uint32
	totalSectors   uint64
	flags          FeatureFlag
}

// Create creates a new image at path with the given geometry and a fresh
// image UUID. The data region is allocated sparsely where the filesystem
// supports it. An existing file at path is refused.
func Create(path string, totalSectors uint64, bytesPerSector int) (*Image, error) {
	if totalSectors == 0 || bytesPerSector <= 0 {
		return nil, fmt.Errorf("imagefile: invalid geometry (sectors=%d sectorSize=%d)", totalSectors, bytesPerSector)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("imagefile: create %s: %w", path, err)
	}

	img := &Image{
		f:              f,
		path:           path,
		id:             uuid.New(),
		bytesPerSector: uint32(bytesPerSector),
		totalSectors:   totalSectors,
	}

	if err := f.Truncate(HeaderSize + int64(totalSectors)*int64(bytesPerSector)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("imagefile: allocate data region: %w", err)
	}
	if _, err := f.WriteAt(img.marshalHeader(), 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("imagefile: write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return img, nil
}

// Open opens an existing image and validates its header and size.
func Open(path string) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("imagefile: open %s: %w", path, err)
	}
	img := &Image{f: f, path: path}
	if err := img.readHeader(); err != nil {
		f.Close()
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	want := HeaderSize + int64(img.totalSectors)*int64(img.bytesPerSector)
	if st.Size() < want {
		f.Close()
		return nil, fmt.Errorf("%w: data region truncated (%d < %d bytes)", ErrBadImage, st.Size(), want)
	}
	return img, nil
}

func (img *Image) marshalHeader() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[magicOff:], Magic)
	binary.LittleEndian.PutUint32(buf[versionOff:], CurrentFormatVersion)
	binary.LittleEndian.PutUint32(buf[bpsOff:], img.bytesPerSector)
	binary.LittleEndian.PutUint64(buf[sectorsOff:], img.totalSectors)
	binary.LittleEndian.PutUint64(buf[flagsOff:], uint64(img.flags))
	copy(buf[idOff:], img.id[:])
	binary.LittleEndian.PutUint32(buf[crcOff:], crc32.Checksum(buf[:crcOff], crcTable))
	return buf
}

func (img *Image) readHeader() error {
	buf := make([]byte, HeaderSize)
	if _, err := img.f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("imagefile: read header: %w", err)
	}
	if string(buf[magicOff:magicOff+8]) != Magic {
		return fmt.Errorf("%w: bad magic", ErrBadImage)
	}
	wantCRC := binary.LittleEndian.Uint32(buf[crcOff:])
	if crc32.Checksum(buf[:crcOff], crcTable) != wantCRC {
		return fmt.Errorf("%w: header checksum mismatch", ErrBadImage)
	}
	if v := binary.LittleEndian.Uint32(buf[versionOff:]); v != CurrentFormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrBadImage, v)
	}
	img.bytesPerSector = binary.LittleEndian.Uint32(buf[bpsOff:])
	img.totalSectors = binary.LittleEndian.Uint64(buf[sectorsOff:])
	img.flags = FeatureFlag(binary.LittleEndian.Uint64(buf[flagsOff:]))
	if img.flags != 0 {
		return fmt.Errorf("%w: unknown feature flags %#x", ErrBadImage, uint64(img.flags))
	}
	if img.bytesPerSector == 0 || img.totalSectors == 0 {
		return fmt.Errorf("%w: zero geometry", ErrBadImage)
	}
	copy(img.id[:], buf[idOff:idOff+16])
	return nil
}

// ID returns the image UUID assigned at creation.
func (img *Image) ID() uuid.UUID { return img.id }

// Path returns the file path the image was opened from.
func (img *Image) Path() string { return img.path }

// TotalSectors returns the image capacity in sectors.
func (img *Image) TotalSectors() uint64 { return img.totalSectors }

// BytesPerSector returns the sector size in bytes.
func (img *Image) BytesPerSector() int { return int(img.bytesPerSector) }

func (img *Image) checkRange(startSector, count uint64) error {
	end := startSector + count
	if end < startSector || end > img.totalSectors {
		return fmt.Errorf("imagefile: sector range [%d,%d) beyond image end %d", startSector, end, img.totalSectors)
	}
	return nil
}

// ReadSectors reads count sectors starting at startSector into buf.
func (img *Image) ReadSectors(startSector, count uint64, buf []byte) error {
	if err := img.checkRange(startSector, count); err != nil {
		return err
	}
	n := count * uint64(img.bytesPerSector)
	off := HeaderSize + int64(startSector)*int64(img.bytesPerSector)
	if _, err := img.f.ReadAt(buf[:n], off); err != nil {
		return fmt.Errorf("imagefile: read %d sectors at %d: %w", count, startSector, err)
	}
	return nil
}

// WriteSectors writes count sectors starting at startSector from buf.
func (img *Image) WriteSectors(startSector, count uint64, buf []byte) error {
	if err := img.checkRange(startSector, count); err != nil {
		return err
	}
	n := count * uint64(img.bytesPerSector)
	off := HeaderSize + int64(startSector)*int64(img.bytesPerSector)
	if _, err := img.f.WriteAt(buf[:n], off); err != nil {
		return fmt.Errorf("imagefile: write %d sectors at %d: %w", count, startSector, err)
	}
	return nil
}

// Sync flushes the image file to stable storage.
func (img *Image) Sync() error { return img.f.Sync() }

// Close closes the underlying file.
func (img *Image) Close() error { return img.f.Close() }
