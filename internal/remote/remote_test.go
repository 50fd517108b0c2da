package remote

import (
	"bytes"
	"net"
	"testing"

	"google.golang.org/grpc"

	"github.com/SimonWaldherr/sectorcache"
)

func startServer(t *testing.T, dev Backend, imageID string) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	gs := grpc.NewServer()
	Register(gs, NewServer(dev, imageID))
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)
	return lis.Addr().String()
}

func TestClientServerRoundTrip(t *testing.T) {
	mem := sectorcache.NewMemDevice(1000, 512)
	addr := startServer(t, mem, "test-image")

	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if c.TotalSectors() != 1000 || c.BytesPerSector() != 512 {
		t.Fatalf("geometry = %d/%d, want 1000/512", c.TotalSectors(), c.BytesPerSector())
	}
	if c.ImageID() != "test-image" {
		t.Errorf("ImageID = %q", c.ImageID())
	}

	payload := bytes.Repeat([]byte{0x7E}, 4*512)
	if err := c.WriteSectors(40, 4, payload); err != nil {
		t.Fatalf("WriteSectors: %v", err)
	}
	got := make([]byte, 4*512)
	if err := c.ReadSectors(40, 4, got); err != nil {
		t.Fatalf("ReadSectors: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("remote round trip corrupted data")
	}
	// The server wrote through to the backing device.
	if !bytes.Equal(mem.Bytes()[40*512:44*512], payload) {
		t.Fatal("write did not reach the backend")
	}
}

func TestDeviceErrorsTravelInBand(t *testing.T) {
	mem := sectorcache.NewMemDevice(10, 512)
	addr := startServer(t, mem, "")

	c, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	buf := make([]byte, 512)
	if err := c.ReadSectors(10, 1, buf); err == nil {
		t.Error("out-of-range remote read returned no error")
	}
}

func TestCacheOverRemoteDevice(t *testing.T) {
	mem := sectorcache.NewMemDevice(10000, 512)
	addr := startServer(t, mem, "")

	dev, err := Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer dev.Close()

	c, err := sectorcache.New(4, 32, dev, dev.TotalSectors(), dev.BytesPerSector())
	if err != nil {
		t.Fatalf("New cache: %v", err)
	}
	defer c.Close()

	payload := bytes.Repeat([]byte{0x33}, 512)
	if err := c.WriteSector(payload, 77); err != nil {
		t.Fatalf("write through cache: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if !bytes.Equal(mem.Bytes()[77*512:78*512], payload) {
		t.Fatal("flushed sector did not reach the remote backend")
	}
}
