// Package encoder decodes incremental quadrature wheel encoders read through
// GPIO inputs.
package encoder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/ClimbGo/internal/debug"
	"github.com/cjeanneret/ClimbGo/internal/hw/gpio"
)

// steps maps prev<<2|cur (state = A<<1|B) to a count delta. A leading B
// (00 -> 10 -> 11 -> 01) counts up. Transitions where both channels changed
// were missed and count as zero.
var steps = [16]int32{
	0, -1, +1, 0,
	+1, 0, 0, -1,
	-1, 0, 0, +1,
	0, +1, -1, 0,
}

// Config holds the pins of one encoder.
type Config struct {
	PinA   int
	PinB   int
	Invert bool // wheel mounted mirrored: forward counts down
}

// Quadrature is a polled quadrature decoder.
type Quadrature struct {
	gpio gpio.Driver
	cfg  Config

	mu     sync.Mutex // serializes Poll and Reset
	prev   uint8
	count  atomic.Int32
	missed atomic.Uint32
}

// NewQuadrature sets both pins as inputs and latches their current state.
func NewQuadrature(g gpio.Driver, cfg Config) (*Quadrature, error) {
	for _, pin := range []int{cfg.PinA, cfg.PinB} {
		if err := g.SetupPin(pin, gpio.Input); err != nil {
			return nil, fmt.Errorf("encoder: setup pin %d: %w", pin, err)
		}
	}
	q := &Quadrature{gpio: g, cfg: cfg}
	state, err := q.read()
	if err != nil {
		return nil, err
	}
	q.prev = state
	return q, nil
}

func (q *Quadrature) read() (uint8, error) {
	a, err := q.gpio.ReadPin(q.cfg.PinA)
	if err != nil {
		return 0, fmt.Errorf("encoder: read pin %d: %w", q.cfg.PinA, err)
	}
	b, err := q.gpio.ReadPin(q.cfg.PinB)
	if err != nil {
		return 0, fmt.Errorf("encoder: read pin %d: %w", q.cfg.PinB, err)
	}
	var s uint8
	if a == gpio.High {
		s |= 2
	}
	if b == gpio.High {
		s |= 1
	}
	return s, nil
}

// Poll samples both channels once and updates the count.
func (q *Quadrature) Poll() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur, err := q.read()
	if err != nil {
		return err
	}
	if cur == q.prev {
		return nil
	}
	d := steps[q.prev<<2|cur]
	if d == 0 {
		q.missed.Add(1)
	}
	if q.cfg.Invert {
		d = -d
	}
	q.count.Add(d)
	q.prev = cur
	return nil
}

// Count returns the ticks since the last reset.
func (q *Quadrature) Count() int32 { return q.count.Load() }

// Missed returns the number of transitions lost because the polling was too
// slow for the wheel speed.
func (q *Quadrature) Missed() uint32 { return q.missed.Load() }

// Reset zeroes the count. It waits for an in-flight Poll, so the next
// Count never includes ticks from before the reset.
func (q *Quadrature) Reset() {
	q.mu.Lock()
	q.count.Store(0)
	q.mu.Unlock()
}

// Odometer combines the two wheel encoders.
type Odometer struct {
	left  *Quadrature
	right *Quadrature
}

func NewOdometer(left, right *Quadrature) *Odometer {
	return &Odometer{left: left, right: right}
}

func (o *Odometer) Left() int32  { return o.left.Count() }
func (o *Odometer) Right() int32 { return o.right.Count() }

// Reset zeroes both wheel counts.
func (o *Odometer) Reset() {
	o.left.Reset()
	o.right.Reset()
}

// Poll samples both encoders once.
func (o *Odometer) Poll() error {
	if err := o.left.Poll(); err != nil {
		return err
	}
	return o.right.Poll()
}

// Run polls both encoders every interval until ctx is cancelled. Read
// errors are logged once per streak and polling continues.
func (o *Odometer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Microsecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	debug.Info("Encoder polling every %v", interval)
	failing := false
	for {
		select {
		case <-ctx.Done():
			debug.Verbose("Encoder polling stopped (missed transitions: left=%d right=%d)",
				o.left.Missed(), o.right.Missed())
			return ctx.Err()
		case <-ticker.C:
			if err := o.Poll(); err != nil {
				if !failing {
					debug.Error(err)
				}
				failing = true
				continue
			}
			failing = false
		}
	}
}
