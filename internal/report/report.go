// Package report writes latency samples as CSV rows.
//
// The layout is one header line followed by one row per sample:
//
//	time,expected,latency,duration
//	1700000002.1,1700000002.0,0.1,0.1
//
// Times are Unix seconds and durations are seconds. Every row is flushed as
// soon as it is written so the output can be followed live.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/btlatency/internal/latency"
)

// Header is the column layout written before the first row.
var Header = []string{"time", "expected", "latency", "duration"}

// CSV is a [latency.Sink] that writes samples to an io.Writer. It is safe
// for concurrent use.
type CSV struct {
	mu     sync.Mutex
	w      *csv.Writer
	header bool
}

// NewCSV returns a CSV sink writing to w. The header is written with the
// first call to [CSV.WriteHeader] or [CSV.Put].
func NewCSV(w io.Writer) *CSV {
	return &CSV{w: csv.NewWriter(w)}
}

// WriteHeader writes the header line if it has not been written yet.
func (c *CSV) WriteHeader() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeHeader()
}

func (c *CSV) writeHeader() error {
	if c.header {
		return nil
	}
	if err := c.write(Header); err != nil {
		return err
	}
	c.header = true
	return nil
}

// Put implements [latency.Sink].
func (c *CSV) Put(_ context.Context, s latency.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeHeader(); err != nil {
		return err
	}
	return c.write(Row(s))
}

func (c *CSV) write(record []string) error {
	if err := c.w.Write(record); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// Row formats s as a CSV record in [Header] order.
func Row(s latency.Sample) []string {
	return []string{
		FormatSeconds(unixSeconds(s.Time)),
		FormatSeconds(unixSeconds(s.Expected)),
		FormatSeconds(s.Latency.Seconds()),
		FormatSeconds(s.Duration.Seconds()),
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// FormatSeconds renders v in the shortest form that round-trips, keeping a
// trailing ".0" on integral values.
func FormatSeconds(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if v == math.Trunc(v) && !math.IsInf(v, 0) {
		s += ".0"
	}
	return s
}
