package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/btlatency/internal/latency"
)

func newTestStreamChecker(window time.Duration, now *time.Time) (*StreamChecker, *latency.Activity) {
	a := &latency.Activity{}
	s := NewStreamChecker(a, window)
	s.now = func() time.Time { return *now }
	s.started = *now
	return s, a
}

func TestStreamChecker_FreshSessionIsHealthy(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s, _ := newTestStreamChecker(3*time.Second, &now)
	if err := s.Check(context.Background()); err != nil {
		t.Errorf("fresh session: %v", err)
	}
}

func TestStreamChecker_StallsWithoutFrames(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s, _ := newTestStreamChecker(3*time.Second, &now)
	now = now.Add(4 * time.Second)
	if err := s.Check(context.Background()); !errors.Is(err, ErrStalled) {
		t.Errorf("err = %v, want ErrStalled", err)
	}
}

func TestStreamChecker_ActivityKeepsHealthy(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s, a := newTestStreamChecker(3*time.Second, &now)

	now = now.Add(10 * time.Second)
	a.Touch(now.Add(-time.Second))
	if err := s.Check(context.Background()); err != nil {
		t.Errorf("recent activity: %v", err)
	}

	now = now.Add(5 * time.Second)
	if err := s.Check(context.Background()); !errors.Is(err, ErrStalled) {
		t.Errorf("err = %v, want ErrStalled after idle period", err)
	}
}

func TestStreamChecker_ZeroWindowDisables(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s, _ := newTestStreamChecker(0, &now)
	now = now.Add(time.Hour)
	if err := s.Check(context.Background()); err != nil {
		t.Errorf("disabled checker returned %v", err)
	}

	s.SetWindow(time.Minute)
	if s.Window() != time.Minute {
		t.Errorf("Window() = %v, want 1m", s.Window())
	}
	if err := s.Check(context.Background()); !errors.Is(err, ErrStalled) {
		t.Errorf("err = %v, want ErrStalled once enabled", err)
	}
}

func TestStreamChecker_ReadyzReportsStall(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s, _ := newTestStreamChecker(time.Second, &now)
	now = now.Add(2 * time.Second)

	rec := httptest.NewRecorder()
	New(s.Checker()).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
