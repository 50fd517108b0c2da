// Package trace records device-level I/O into a SQLite database so a
// workload run through the cache can be inspected afterwards with any
// SQLite client. A trace.Device wraps the real device transparently; the
// cache on top never knows it is being observed.
package trace

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/SimonWaldherr/sectorcache"
)

const schema = `
CREATE TABLE IF NOT EXISTS ops (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	at     TEXT    NOT NULL,
	op     TEXT    NOT NULL,
	sector INTEGER NOT NULL,
	count  INTEGER NOT NULL,
	micros INTEGER NOT NULL,
	err    TEXT
);
CREATE INDEX IF NOT EXISTS ops_op ON ops(op);
`

// Recorder writes trace rows to one SQLite database file.
type Recorder struct {
	db *sql.DB
}

// Open creates or opens a trace database at path.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace: create schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Close closes the trace database.
func (r *Recorder) Close() error { return r.db.Close() }

func (r *Recorder) record(op string, sector, count uint64, d time.Duration, opErr error) error {
	var errText any
	if opErr != nil {
		errText = opErr.Error()
	}
	_, err := r.db.Exec(
		`INSERT INTO ops (at, op, sector, count, micros, err) VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), op, int64(sector), int64(count), d.Microseconds(), errText,
	)
	if err != nil {
		return fmt.Errorf("trace: record %s: %w", op, err)
	}
	return nil
}

// Summary aggregates one trace database.
type Summary struct {
	Reads        int64
	Writes       int64
	ReadSectors  int64
	WriteSectors int64
	Errors       int64
}

// Summary computes aggregate counts over all recorded operations.
func (r *Recorder) Summary() (Summary, error) {
	var s Summary
	row := r.db.QueryRow(`
		SELECT
			COUNT(*) FILTER (WHERE op = 'read'),
			COUNT(*) FILTER (WHERE op = 'write'),
			COALESCE(SUM(count) FILTER (WHERE op = 'read'), 0),
			COALESCE(SUM(count) FILTER (WHERE op = 'write'), 0),
			COUNT(*) FILTER (WHERE err IS NOT NULL)
		FROM ops`)
	if err := row.Scan(&s.Reads, &s.Writes, &s.ReadSectors, &s.WriteSectors, &s.Errors); err != nil {
		return Summary{}, fmt.Errorf("trace: summary: %w", err)
	}
	return s, nil
}

// Device wraps a block device and records every call to a Recorder.
// Recording failures are surfaced — a trace that silently drops rows is
// worse than a failing run.
type Device struct {
	dev sectorcache.Device
	rec *Recorder
}

// NewDevice wraps dev so that all sector I/O is recorded to rec.
func NewDevice(dev sectorcache.Device, rec *Recorder) *Device {
	return &Device{dev: dev, rec: rec}
}

func (d *Device) ReadSectors(startSector, count uint64, buf []byte) error {
	start := time.Now()
	err := d.dev.ReadSectors(startSector, count, buf)
	if recErr := d.rec.record("read", startSector, count, time.Since(start), err); recErr != nil && err == nil {
		return recErr
	}
	return err
}

func (d *Device) WriteSectors(startSector, count uint64, buf []byte) error {
	start := time.Now()
	err := d.dev.WriteSectors(startSector, count, buf)
	if recErr := d.rec.record("write", startSector, count, time.Since(start), err); recErr != nil && err == nil {
		return recErr
	}
	return err
}
