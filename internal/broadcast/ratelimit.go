package broadcast

import "time"

// window is a fixed-window counter. When more than length has passed since
// start, the counter resets and the window restarts at the current instant.
// A burst of up to 2*limit can therefore straddle a window boundary.
type window struct {
	length   time.Duration
	limit    int
	start    time.Time
	used     int // confirmed sends in this window
	reserved int // sends in flight
}

func (w *window) roll(now time.Time) {
	if now.Sub(w.start) > w.length {
		w.used = 0
		w.start = now
	}
}

func (w *window) available() bool {
	return w.used+w.reserved < w.limit
}

// WindowUsage is a read-only view of one window.
type WindowUsage struct {
	Used     int           `json:"used"`
	Limit    int           `json:"limit"`
	ResetsIn time.Duration `json:"resets_in"`
}

// usage reports the window as the next check would see it, without rolling it.
func (w *window) usage(now time.Time) WindowUsage {
	u := WindowUsage{Limit: w.limit}
	if now.Sub(w.start) > w.length {
		return u
	}
	u.Used = w.used
	u.ResetsIn = w.length - now.Sub(w.start)
	return u
}

// rateLimiter tracks the per-minute and per-hour budgets of one tenant.
// It has no lock of its own; the owning Queue serializes access.
type rateLimiter struct {
	minute window
	hour   window
}

func newRateLimiter(perMinute, perHour int) rateLimiter {
	return rateLimiter{
		minute: window{length: time.Minute, limit: perMinute},
		hour:   window{length: time.Hour, limit: perHour},
	}
}

// hasCapacity reports whether both windows can take at least one more send.
func (r *rateLimiter) hasCapacity(now time.Time) bool {
	r.minute.roll(now)
	r.hour.roll(now)
	return r.minute.available() && r.hour.available()
}

// reserve claims one slot in both windows for a send about to start.
func (r *rateLimiter) reserve(now time.Time) bool {
	if !r.hasCapacity(now) {
		return false
	}
	r.minute.reserved++
	r.hour.reserved++
	return true
}

// settle releases a reservation. Only a confirmed send consumes budget.
func (r *rateLimiter) settle(now time.Time, sent bool) {
	r.minute.reserved--
	r.hour.reserved--
	if !sent {
		return
	}
	r.minute.roll(now)
	r.hour.roll(now)
	r.minute.used++
	r.hour.used++
}
