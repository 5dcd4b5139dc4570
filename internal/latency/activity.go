package latency

import (
	"sync/atomic"
	"time"
)

// Activity records when a role loop last moved data through the stream. It
// is written by the loop and read concurrently by health checks. A nil
// *Activity ignores updates.
type Activity struct {
	last atomic.Int64
}

// Touch records t as the latest activity.
func (a *Activity) Touch(t time.Time) {
	if a == nil {
		return
	}
	a.last.Store(t.UnixNano())
}

// Last returns the latest recorded activity, or the zero time if none.
func (a *Activity) Last() time.Time {
	if a == nil {
		return time.Time{}
	}
	ns := a.last.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
