// Package ratelimit holds the per-connection fixed-window message budget.
package ratelimit

import "time"

const (
	DefaultSize  = time.Second
	DefaultLimit = 25
)

// Window counts messages in a fixed window. It is owned by a single
// connection goroutine and is not safe for concurrent use.
type Window struct {
	Start time.Time
	Count int
	Limit int
	Size  time.Duration
}

func New(start time.Time, limit int, size time.Duration) *Window {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if size <= 0 {
		size = DefaultSize
	}
	return &Window{Start: start, Limit: limit, Size: size}
}

// Allow records one message at now and reports whether it fits the budget.
func (w *Window) Allow(now time.Time) bool {
	if now.Sub(w.Start) > w.Size {
		w.Start = now
		w.Count = 1
		return true
	}
	if w.Count >= w.Limit {
		return false
	}
	w.Count++
	return true
}
