// Package clock provides the monotonic millisecond time base shared by the
// control loops. All deadlines are absolute values on this clock.
package clock

import (
	"sync"
	"time"
)

// Clock returns monotonic, non-decreasing milliseconds.
type Clock interface {
	NowMillis() uint64
}

// System measures milliseconds since it was created, using Go's monotonic clock.
type System struct {
	start time.Time
}

func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) NowMillis() uint64 {
	return uint64(time.Since(s.start) / time.Millisecond)
}

// Manual is a clock driven by the caller. Used by tests and the simulator.
type Manual struct {
	mu  sync.Mutex
	now uint64
}

func NewManual(start uint64) *Manual {
	return &Manual{now: start}
}

func (m *Manual) NowMillis() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t. Values in the past are ignored so the clock
// never goes backwards.
func (m *Manual) Set(t uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t > m.now {
		m.now = t
	}
}

// Advance moves the clock forward by ms and returns the new time.
func (m *Manual) Advance(ms uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += ms
	return m.now
}
