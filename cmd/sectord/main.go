// Command sectord serves a disk image as a block device over gRPC.
// Remote clients (sectool, or any process using the remote package) put
// their own sector cache on top; the daemon itself stays a dumb device
// and only syncs the image file on a schedule.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"github.com/SimonWaldherr/sectorcache/internal/config"
	"github.com/SimonWaldherr/sectorcache/internal/imagefile"
	"github.com/SimonWaldherr/sectorcache/internal/remote"
	"github.com/SimonWaldherr/sectorcache/internal/sched"
)

var (
	flagConfig = flag.String("config", "sectord.yaml", "YAML configuration file (missing file = defaults)")
	flagImage  = flag.String("image", "", "disk image to serve (overrides config)")
	flagGRPC   = flag.String("grpc", "", "gRPC listen address (overrides config)")
	flagHTTP   = flag.String("http", "", "HTTP status listen address (overrides config; empty in config disables)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *flagImage != "" {
		cfg.Image.Path = *flagImage
	}
	if *flagGRPC != "" {
		cfg.Serve.GRPCAddr = *flagGRPC
	}
	if *flagHTTP != "" {
		cfg.Serve.HTTPAddr = *flagHTTP
	}

	img, err := imagefile.Open(cfg.Image.Path)
	if err != nil {
		log.Fatalf("open image: %v", err)
	}
	defer img.Close()
	log.Printf("serving %s (%s, %d sectors of %d bytes)",
		cfg.Image.Path, img.ID(), img.TotalSectors(), img.BytesPerSector())

	// The image has no cache in front of it here, but a periodic fsync
	// keeps the page cache of the host from holding writes forever.
	var flusher *sched.Flusher
	if cfg.Flush.Schedule != "" {
		flusher, err = sched.New(cfg.Flush.Schedule, img.Sync)
		if err != nil {
			log.Fatalf("flush schedule: %v", err)
		}
		flusher.Start()
		defer flusher.Stop()
	}

	start := time.Now()
	if cfg.Serve.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
			status := map[string]any{
				"ok":      true,
				"image":   cfg.Image.Path,
				"id":      img.ID().String(),
				"sectors": img.TotalSectors(),
				"uptime":  time.Since(start).String(),
			}
			if flusher != nil {
				runs, lastRun, lastErr := flusher.Status()
				status["sync_runs"] = runs
				if !lastRun.IsZero() {
					status["last_sync"] = lastRun.Format(time.RFC3339)
				}
				if lastErr != nil {
					status["last_sync_error"] = lastErr.Error()
				}
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(status)
		})
		go func() {
			log.Printf("HTTP status on %s", cfg.Serve.HTTPAddr)
			if err := http.ListenAndServe(cfg.Serve.HTTPAddr, mux); err != nil {
				log.Printf("HTTP serve error: %v", err)
			}
		}()
	}

	lis, err := net.Listen("tcp", cfg.Serve.GRPCAddr)
	if err != nil {
		log.Fatalf("gRPC listen: %v", err)
	}
	gs := grpc.NewServer()
	remote.Register(gs, remote.NewServer(img, img.ID().String()))
	log.Printf("gRPC listening on %s", cfg.Serve.GRPCAddr)
	if err := gs.Serve(lis); err != nil {
		log.Fatalf("gRPC serve: %v", err)
	}
}
