// Package config loads the YAML configuration shared by the sectool and
// sectord binaries. Flags override file values; the file is optional.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full tool configuration.
type Config struct {
	Image ImageConfig `yaml:"image"`
	Cache CacheConfig `yaml:"cache"`
	Serve ServeConfig `yaml:"serve"`
	Trace TraceConfig `yaml:"trace"`
	Flush FlushConfig `yaml:"flush"`
}

// ImageConfig describes the disk image to operate on.
type ImageConfig struct {
	Path       string `yaml:"path"`
	Sectors    uint64 `yaml:"sectors"`     // used by init only
	SectorSize int    `yaml:"sector_size"` // used by init only
}

// CacheConfig is the cache geometry. The cache constructor applies the
// same clamps; validation here only rejects nonsense outright.
type CacheConfig struct {
	Pages          int `yaml:"pages"`
	SectorsPerPage int `yaml:"sectors_per_page"`
}

// ServeConfig holds the sectord listen addresses.
type ServeConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"` // empty disables the status endpoint
}

// TraceConfig points at the SQLite trace database.
type TraceConfig struct {
	Path string `yaml:"path"` // empty disables tracing
}

// FlushConfig configures the periodic flush schedule of sectord.
type FlushConfig struct {
	Schedule string `yaml:"schedule"` // cron spec with seconds; empty disables
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Image: ImageConfig{
			Path:       "volume.img",
			Sectors:    1 << 16,
			SectorSize: 512,
		},
		Cache: CacheConfig{
			Pages:          8,
			SectorsPerPage: 64,
		},
		Serve: ServeConfig{
			GRPCAddr: ":9090",
			HTTPAddr: ":8080",
		},
		Flush: FlushConfig{
			Schedule: "0 * * * * *", // once a minute
		},
	}
}

// Load reads path and overlays it onto Default. A missing file is not an
// error — the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the tools could not act on.
func (c *Config) Validate() error {
	if c.Image.Path == "" {
		return fmt.Errorf("config: image.path must be set")
	}
	if c.Cache.Pages <= 0 {
		return fmt.Errorf("config: cache.pages must be positive, got %d", c.Cache.Pages)
	}
	if c.Cache.SectorsPerPage <= 0 {
		return fmt.Errorf("config: cache.sectors_per_page must be positive, got %d", c.Cache.SectorsPerPage)
	}
	if c.Image.SectorSize < 0 || c.Image.SectorSize > 1<<20 {
		return fmt.Errorf("config: image.sector_size out of range: %d", c.Image.SectorSize)
	}
	return nil
}
