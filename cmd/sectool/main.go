// Command sectool creates, inspects, and exercises disk images through
// the sector cache.
//
//	sectool init   -image vol.img -sectors 65536 -sector-size 512
//	sectool info   -image vol.img
//	sectool dump   -image vol.img -sector 0 -count 4
//	sectool bench  -image vol.img -ops 10000 -trace trace.db
//	sectool export -image vol.img -out vol.img.gz
//	sectool import -image new.img -in vol.img.gz
//
// dump and bench also accept -remote host:port to operate on an image
// served by sectord instead of a local file.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"text/tabwriter"

	"github.com/SimonWaldherr/sectorcache"
	"github.com/SimonWaldherr/sectorcache/internal/config"
	"github.com/SimonWaldherr/sectorcache/internal/imagefile"
	"github.com/SimonWaldherr/sectorcache/internal/remote"
	"github.com/SimonWaldherr/sectorcache/internal/trace"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit(os.Args[2:])
	case "info":
		err = cmdInfo(os.Args[2:])
	case "dump":
		err = cmdDump(os.Args[2:])
	case "bench":
		err = cmdBench(os.Args[2:])
	case "export":
		err = cmdExport(os.Args[2:])
	case "import":
		err = cmdImport(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "sectool: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sectool: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sectool <init|info|dump|bench|export|import> [flags]")
}

// device is the common surface of a local image and a remote client.
type device interface {
	sectorcache.Device
	TotalSectors() uint64
	BytesPerSector() int
}

// openDevice opens either a local image file or a remote device and
// returns it with a matching close function.
func openDevice(image, remoteAddr string) (device, func() error, error) {
	if remoteAddr != "" {
		c, err := remote.Dial(remoteAddr)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}
	img, err := imagefile.Open(image)
	if err != nil {
		return nil, nil, err
	}
	return img, img.Close, nil
}

func cmdInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML configuration file")
	image := fs.String("image", "", "image file to create")
	sectors := fs.Uint64("sectors", 0, "total sectors")
	sectorSize := fs.Int("sector-size", 0, "bytes per sector")
	fs.Parse(args)

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			return err
		}
	}
	if *image != "" {
		cfg.Image.Path = *image
	}
	if *sectors != 0 {
		cfg.Image.Sectors = *sectors
	}
	if *sectorSize != 0 {
		cfg.Image.SectorSize = *sectorSize
	}

	img, err := imagefile.Create(cfg.Image.Path, cfg.Image.Sectors, cfg.Image.SectorSize)
	if err != nil {
		return err
	}
	defer img.Close()
	fmt.Printf("created %s: %s, %d sectors of %d bytes\n",
		cfg.Image.Path, img.ID(), img.TotalSectors(), img.BytesPerSector())
	return nil
}

func cmdInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	image := fs.String("image", "volume.img", "image file")
	fs.Parse(args)

	img, err := imagefile.Open(*image)
	if err != nil {
		return err
	}
	defer img.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "path\t%s\n", img.Path())
	fmt.Fprintf(w, "id\t%s\n", img.ID())
	fmt.Fprintf(w, "sectors\t%d\n", img.TotalSectors())
	fmt.Fprintf(w, "sector size\t%d\n", img.BytesPerSector())
	fmt.Fprintf(w, "data size\t%d bytes\n", img.TotalSectors()*uint64(img.BytesPerSector()))
	return w.Flush()
}

func cmdDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	image := fs.String("image", "volume.img", "image file")
	remoteAddr := fs.String("remote", "", "sectord address instead of a local image")
	sector := fs.Uint64("sector", 0, "first sector")
	count := fs.Uint64("count", 1, "number of sectors")
	fs.Parse(args)

	dev, closeDev, err := openDevice(*image, *remoteAddr)
	if err != nil {
		return err
	}
	defer closeDev()

	c, err := sectorcache.New(4, 64, dev, dev.TotalSectors(), dev.BytesPerSector())
	if err != nil {
		return err
	}
	defer c.Close()

	buf := make([]byte, *count*uint64(dev.BytesPerSector()))
	if err := c.ReadSectors(*sector, *count, buf); err != nil {
		return err
	}
	dumper := hex.Dumper(os.Stdout)
	defer dumper.Close()
	_, err = dumper.Write(buf)
	return err
}

func cmdBench(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	image := fs.String("image", "volume.img", "image file")
	remoteAddr := fs.String("remote", "", "sectord address instead of a local image")
	pages := fs.Int("pages", 8, "cache pages")
	spp := fs.Int("sectors-per-page", 64, "sectors per cache page")
	ops := fs.Int("ops", 10000, "operations to run")
	writeRatio := fs.Float64("write-ratio", 0.3, "fraction of operations that write")
	seed := fs.Int64("seed", 1, "workload RNG seed")
	tracePath := fs.String("trace", "", "record device I/O to this SQLite file")
	fs.Parse(args)

	dev, closeDev, err := openDevice(*image, *remoteAddr)
	if err != nil {
		return err
	}
	defer closeDev()

	var cacheDev sectorcache.Device = dev
	var rec *trace.Recorder
	if *tracePath != "" {
		rec, err = trace.Open(*tracePath)
		if err != nil {
			return err
		}
		defer rec.Close()
		cacheDev = trace.NewDevice(dev, rec)
	}

	c, err := sectorcache.New(*pages, *spp, cacheDev, dev.TotalSectors(), dev.BytesPerSector())
	if err != nil {
		return err
	}
	defer c.Close()

	bps := dev.BytesPerSector()
	total := dev.TotalSectors()
	rng := rand.New(rand.NewSource(*seed))
	buf := make([]byte, bps)

	for i := 0; i < *ops; i++ {
		sector := rng.Uint64() % total
		if rng.Float64() < *writeRatio {
			rng.Read(buf)
			if err := c.WriteSector(buf, sector); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
		} else {
			if err := c.ReadSector(buf, sector); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
		}
	}
	if err := c.Flush(); err != nil {
		return err
	}

	st := c.Stats()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "operations\t%d\n", *ops)
	fmt.Fprintf(w, "hits\t%d\n", st.Hits)
	fmt.Fprintf(w, "misses\t%d\n", st.Misses)
	fmt.Fprintf(w, "evictions\t%d\n", st.Evictions)
	fmt.Fprintf(w, "writebacks\t%d\n", st.Writebacks)
	fmt.Fprintf(w, "bypassed sectors\t%d\n", st.BypassedSectors)
	if total := st.Hits + st.Misses; total > 0 {
		fmt.Fprintf(w, "hit rate\t%.1f%%\n", 100*float64(st.Hits)/float64(total))
	}
	if rec != nil {
		s, err := rec.Summary()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "device reads\t%d (%d sectors)\n", s.Reads, s.ReadSectors)
		fmt.Fprintf(w, "device writes\t%d (%d sectors)\n", s.Writes, s.WriteSectors)
	}
	return w.Flush()
}

func cmdExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	image := fs.String("image", "volume.img", "image file")
	out := fs.String("out", "", "snapshot file to write")
	fs.Parse(args)
	if *out == "" {
		return fmt.Errorf("export: -out is required")
	}

	img, err := imagefile.Open(*image)
	if err != nil {
		return err
	}
	defer img.Close()

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := imagefile.Export(img, f); err != nil {
		f.Close()
		os.Remove(*out)
		return err
	}
	return f.Close()
}

func cmdImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	image := fs.String("image", "", "image file to create")
	in := fs.String("in", "", "snapshot file to read")
	fs.Parse(args)
	if *image == "" || *in == "" {
		return fmt.Errorf("import: -image and -in are required")
	}

	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer f.Close()

	img, err := imagefile.Import(*image, f)
	if err != nil {
		return err
	}
	defer img.Close()
	fmt.Printf("imported %s: %s, %d sectors of %d bytes\n",
		*image, img.ID(), img.TotalSectors(), img.BytesPerSector())
	return nil
}
