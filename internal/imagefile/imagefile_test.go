package imagefile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestCreateOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")

	img, err := Create(path, 100, 512)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := img.ID()
	if id == uuid.Nil {
		t.Fatal("created image has nil UUID")
	}

	payload := bytes.Repeat([]byte{0x5A}, 3*512)
	if err := img.WriteSectors(10, 3, payload); err != nil {
		t.Fatalf("WriteSectors: %v", err)
	}
	if err := img.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	img2, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer img2.Close()

	if img2.ID() != id {
		t.Errorf("UUID changed across reopen: %s != %s", img2.ID(), id)
	}
	if img2.TotalSectors() != 100 || img2.BytesPerSector() != 512 {
		t.Errorf("geometry changed: sectors=%d sectorSize=%d", img2.TotalSectors(), img2.BytesPerSector())
	}

	got := make([]byte, 3*512)
	if err := img2.ReadSectors(10, 3, got); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("sector data did not survive reopen")
	}
}

func TestCreateRefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	img, err := Create(path, 10, 512)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	img.Close()

	if _, err := Create(path, 10, 512); err == nil {
		t.Fatal("Create over an existing file should fail")
	}
}

func TestOpenRejectsCorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	img, err := Create(path, 10, 512)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	img.Close()

	// Flip a byte inside the checksummed region.
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := f.WriteAt([]byte{0xFF}, sectorsOff); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	f.Close()

	if _, err := Open(path); !errors.Is(err, ErrBadImage) {
		t.Fatalf("Open of corrupt image: got %v, want ErrBadImage", err)
	}
}

func TestOpenRejectsTruncatedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	img, err := Create(path, 100, 512)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	img.Close()

	if err := os.Truncate(path, HeaderSize+50*512); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if _, err := Open(path); !errors.Is(err, ErrBadImage) {
		t.Fatalf("Open of truncated image: got %v, want ErrBadImage", err)
	}
}

func TestSectorRangeChecks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.img")
	img, err := Create(path, 10, 512)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer img.Close()

	buf := make([]byte, 2*512)
	if err := img.ReadSectors(9, 2, buf); err == nil {
		t.Error("read past image end accepted")
	}
	if err := img.WriteSectors(10, 1, buf); err == nil {
		t.Error("write past image end accepted")
	}
}

func TestSnapshotExportImport(t *testing.T) {
	dir := t.TempDir()
	src, err := Create(filepath.Join(dir, "src.img"), 64, 512)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer src.Close()

	payload := make([]byte, 64*512)
	for i := range payload {
		payload[i] = byte(i % 201)
	}
	if err := src.WriteSectors(0, 64, payload); err != nil {
		t.Fatalf("WriteSectors: %v", err)
	}

	var snap bytes.Buffer
	if err := Export(src, &snap); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if snap.Len() >= len(payload) {
		t.Logf("snapshot did not compress (%d bytes) — fine for pattern data", snap.Len())
	}

	dst, err := Import(filepath.Join(dir, "dst.img"), &snap)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	defer dst.Close()

	if dst.ID() != src.ID() {
		t.Error("import did not preserve the image UUID")
	}
	got := make([]byte, 64*512)
	if err := dst.ReadSectors(0, 64, got); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("imported image data differs from source")
	}
}
