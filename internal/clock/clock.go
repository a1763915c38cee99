// Package clock hands out strictly increasing unix-nano timestamps. Two
// calls never return the same value even within one wall-clock tick, which
// keeps CreatedAt usable as a deterministic sort key and guarantees
// UpdatedAt never runs behind CreatedAt within a process.
package clock

import (
	"sync/atomic"
	"time"
)

var lastTimestamp int64

// Now returns the current unix-nano time, bumped past any previously
// returned value.
func Now() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}
