// Package sched runs periodic cache flushes on a cron schedule. The cache
// itself is single-threaded and externally locked; the Flusher calls the
// supplied flush function and relies on that function to take the volume
// lock, so the cache never sees concurrent access.
package sched

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// FlushFunc flushes the cache under the caller's volume lock.
type FlushFunc func() error

// Flusher triggers a FlushFunc on a cron schedule.
type Flusher struct {
	cron  *cron.Cron
	flush FlushFunc

	mu        sync.Mutex
	started   bool
	lastRun   time.Time
	lastError error
	runs      int64
}

// New creates a Flusher for the given cron spec (with seconds field, as
// in "*/30 * * * * *" for every thirty seconds).
func New(spec string, flush FlushFunc) (*Flusher, error) {
	if flush == nil {
		return nil, errors.New("sched: nil flush function")
	}
	loc, _ := time.LoadLocation("UTC")
	f := &Flusher{
		cron:  cron.New(cron.WithLocation(loc), cron.WithSeconds()),
		flush: flush,
	}
	if _, err := f.cron.AddFunc(spec, f.run); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Flusher) run() {
	err := f.flush()
	f.mu.Lock()
	f.lastRun = time.Now()
	f.lastError = err
	f.runs++
	f.mu.Unlock()
	if err != nil {
		log.Printf("sched: periodic flush failed: %v", err)
	}
}

// Start begins the schedule. Calling Start twice is a no-op.
func (f *Flusher) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return
	}
	f.started = true
	f.cron.Start()
}

// Stop halts the schedule and waits for a running flush to finish.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.started = false
	f.mu.Unlock()
	<-f.cron.Stop().Done()
}

// Status reports the number of completed runs and the outcome of the
// most recent one.
func (f *Flusher) Status() (runs int64, lastRun time.Time, lastError error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs, f.lastRun, f.lastError
}
