package sectorcache

import (
	"bytes"
	"errors"
	"testing"
)

func TestPartialWritePreservesRest(t *testing.T) {
	c, dev := newTestCache(t, 4, 32, 10000, 512)
	before := append([]byte(nil), dev.mem.Bytes()[7*512:8*512]...)

	payload := []byte("partial sector payload")
	if err := c.WritePartialSector(payload, 7, 100, len(payload)); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got := dev.mem.Bytes()[7*512 : 8*512]
	if !bytes.Equal(got[100:100+len(payload)], payload) {
		t.Fatal("partial write payload missing after flush")
	}
	if !bytes.Equal(got[:100], before[:100]) {
		t.Fatal("bytes before the written region were disturbed")
	}
	if !bytes.Equal(got[100+len(payload):], before[100+len(payload):]) {
		t.Fatal("bytes after the written region were disturbed")
	}

	// Reading the region back goes through the same page.
	rd := make([]byte, len(payload))
	if err := c.ReadPartialSector(rd, 7, 100, len(rd)); err != nil {
		t.Fatalf("read partial: %v", err)
	}
	if !bytes.Equal(rd, payload) {
		t.Fatal("partial read returned different data")
	}
}

func TestEraseWriteZeroesRest(t *testing.T) {
	c, dev := newTestCache(t, 4, 32, 10000, 512)

	payload := []byte{1, 2, 3, 4, 5}
	if err := c.EraseWritePartialSector(payload, 9, 200, len(payload)); err != nil {
		t.Fatalf("erase write: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got := dev.mem.Bytes()[9*512 : 10*512]
	if !bytes.Equal(got[200:205], payload) {
		t.Fatal("erase write payload missing")
	}
	for i, b := range got {
		if i >= 200 && i < 205 {
			continue
		}
		if b != 0 {
			t.Fatalf("byte %d of erased sector is %#x, want 0", i, b)
		}
	}

	// Neighbouring sectors of the same page keep their contents.
	if dev.mem.Bytes()[8*512] == 0 && dev.mem.Bytes()[8*512+1] == 0 {
		t.Fatal("erase write leaked into the previous sector")
	}
	checkInvariants(t, c)
}

func TestLittleEndianRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, 4, 32, 10000, 512)

	cases := []struct {
		width int
		value uint32
	}{
		{1, 0xA5},
		{2, 0xBEEF},
		{4, 0xDEADBEEF},
	}
	for _, tc := range cases {
		if err := c.WriteLittleEndian(tc.value, 3, 16, tc.width); err != nil {
			t.Fatalf("write LE width %d: %v", tc.width, err)
		}
		got, err := c.ReadLittleEndian(3, 16, tc.width)
		if err != nil {
			t.Fatalf("read LE width %d: %v", tc.width, err)
		}
		if got != tc.value {
			t.Errorf("width %d: got %#x, want %#x", tc.width, got, tc.value)
		}
	}
}

func TestLittleEndianByteOrder(t *testing.T) {
	c, dev := newTestCache(t, 4, 32, 10000, 512)

	if err := c.WriteLittleEndian(0x01020304, 0, 0, 4); err != nil {
		t.Fatalf("write LE: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	want := []byte{0x04, 0x03, 0x02, 0x01}
	if got := dev.mem.Bytes()[:4]; !bytes.Equal(got, want) {
		t.Fatalf("on-device byte order = %v, want %v", got, want)
	}
}

func TestLittleEndianRejectsOtherWidths(t *testing.T) {
	c, _ := newTestCache(t, 4, 32, 10000, 512)

	for _, w := range []int{0, 3, 5, 8} {
		if _, err := c.ReadLittleEndian(0, 0, w); !errors.Is(err, ErrBadWidth) {
			t.Errorf("read width %d: got %v, want ErrBadWidth", w, err)
		}
		if err := c.WriteLittleEndian(1, 0, 0, w); !errors.Is(err, ErrBadWidth) {
			t.Errorf("write width %d: got %v, want ErrBadWidth", w, err)
		}
	}
}

func TestPartialPreconditions(t *testing.T) {
	c, dev := newTestCache(t, 4, 32, 100, 512)

	buf := make([]byte, 512)
	if err := c.ReadPartialSector(buf, 0, 500, 13); !errors.Is(err, ErrPartialBounds) {
		t.Errorf("offset+size over sector: got %v, want ErrPartialBounds", err)
	}
	if err := c.WritePartialSector(buf, 0, 512, 1); !errors.Is(err, ErrPartialBounds) {
		t.Errorf("offset at sector end: got %v, want ErrPartialBounds", err)
	}
	if err := c.EraseWritePartialSector(buf, 0, -1, 4); !errors.Is(err, ErrPartialBounds) {
		t.Errorf("negative offset: got %v, want ErrPartialBounds", err)
	}
	if err := c.ReadPartialSector(buf[:2], 0, 0, 8); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("short caller buffer: got %v, want ErrShortBuffer", err)
	}
	if err := c.ReadPartialSector(buf, 100, 0, 8); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("sector at partition end: got %v, want ErrOutOfRange", err)
	}

	// Precondition failures never touch the device.
	if len(dev.reads) != 0 || len(dev.writes) != 0 {
		t.Fatalf("precondition violation reached the device: reads=%v writes=%v", dev.reads, dev.writes)
	}
}

func TestEraseWriteFallsThroughToWholePageRead(t *testing.T) {
	// With pages larger than one sector the erase-write still reads the
	// page (the overwrite covers one of 32 sectors), so this documents
	// the fall-through rather than an elision.
	c, dev := newTestCache(t, 4, 32, 10000, 512)

	payload := []byte{9, 9, 9}
	if err := c.EraseWritePartialSector(payload, 40, 0, len(payload)); err != nil {
		t.Fatalf("erase write: %v", err)
	}
	if len(dev.reads) != 1 || dev.reads[0] != (opRec{0 + 32, 32}) {
		t.Fatalf("expected a whole-page read at 32, got %v", dev.reads)
	}
}
