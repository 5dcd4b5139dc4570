package report

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/btlatency/internal/latency"
)

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0"},
		{2, "2.0"},
		{0.1, "0.1"},
		{0.0125, "0.0125"},
		{1700000002, "1700000002.0"},
		{-0.5, "-0.5"},
	}
	for _, tc := range tests {
		if got := FormatSeconds(tc.in); got != tc.want {
			t.Errorf("FormatSeconds(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRow(t *testing.T) {
	expected := time.Unix(1_700_000_002, 0)
	s := latency.Sample{
		Time:     expected.Add(250 * time.Millisecond),
		Expected: expected,
		Latency:  250 * time.Millisecond,
		Duration: 100 * time.Millisecond,
	}
	want := []string{"1700000002.25", "1700000002.0", "0.25", "0.1"}
	if diff := cmp.Diff(want, Row(s)); diff != "" {
		t.Errorf("Row mismatch (-want +got):\n%s", diff)
	}
}

func TestCSV_HeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	c := NewCSV(&buf)
	if err := c.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	s := latency.Sample{
		Time:     time.Unix(4, 0).Add(100 * time.Millisecond),
		Expected: time.Unix(4, 0),
		Latency:  100 * time.Millisecond,
		Duration: 100 * time.Millisecond,
	}
	for range 2 {
		if err := c.Put(context.Background(), s); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	want := "time,expected,latency,duration\n4.1,4.0,0.1,0.1\n4.1,4.0,0.1,0.1\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestCSV_PutWritesHeaderFirst(t *testing.T) {
	var buf bytes.Buffer
	if err := NewCSV(&buf).Put(context.Background(), latency.Sample{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := buf.String(); !bytes.HasPrefix([]byte(got), []byte("time,expected,latency,duration\n")) {
		t.Errorf("output %q does not start with header", got)
	}
}

type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestCSV_WriteError(t *testing.T) {
	if err := NewCSV(errWriter{}).Put(context.Background(), latency.Sample{}); err == nil {
		t.Error("expected error from failing writer")
	}
}
