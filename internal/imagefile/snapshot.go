package imagefile

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Export streams a gzip-compressed snapshot of the whole image — header
// and data region — to w. The image should be quiescent (no cache with
// unflushed pages on top of it) while exporting.
func Export(img *Image, w io.Writer) error {
	zw, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return err
	}
	size := HeaderSize + int64(img.totalSectors)*int64(img.bytesPerSector)
	if _, err := io.Copy(zw, io.NewSectionReader(img.f, 0, size)); err != nil {
		zw.Close()
		return fmt.Errorf("imagefile: export: %w", err)
	}
	return zw.Close()
}

// Import reads a snapshot produced by Export from r, writes it to a new
// file at path, and opens it. The snapshot's own header (geometry, UUID)
// is preserved verbatim.
func Import(path string, r io.Reader) (*Image, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("imagefile: import: %w", err)
	}
	defer zr.Close()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("imagefile: import %s: %w", path, err)
	}
	if _, err := io.Copy(f, zr); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("imagefile: import: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	img, err := Open(path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return img, nil
}
