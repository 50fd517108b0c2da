package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	doc := `
image:
  path: /data/test.img
cache:
  pages: 16
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Image.Path != "/data/test.img" {
		t.Errorf("image.path = %q", cfg.Image.Path)
	}
	if cfg.Cache.Pages != 16 {
		t.Errorf("cache.pages = %d, want 16", cfg.Cache.Pages)
	}
	// Untouched fields keep their defaults.
	if cfg.Cache.SectorsPerPage != Default().Cache.SectorsPerPage {
		t.Errorf("cache.sectors_per_page = %d, want default %d", cfg.Cache.SectorsPerPage, Default().Cache.SectorsPerPage)
	}
	if cfg.Serve.GRPCAddr != Default().Serve.GRPCAddr {
		t.Errorf("serve.grpc_addr = %q, want default", cfg.Serve.GRPCAddr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	doc := `
cache:
  pages: -1
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("negative cache.pages accepted")
	}
}
