package encoder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/ClimbGo/internal/hw/gpio"
)

// levelDriver serves pin levels set by the test.
type levelDriver struct {
	levels map[int]gpio.Level
	err    error
}

func newLevelDriver() *levelDriver {
	return &levelDriver{levels: make(map[int]gpio.Level)}
}

func (d *levelDriver) SetupPin(pin int, mode gpio.PinMode) error { return nil }
func (d *levelDriver) WritePin(pin int, level gpio.Level) error { return nil }
func (d *levelDriver) SetPWM(pin int, duty, cycle uint32) error { return nil }
func (d *levelDriver) Close() error                             { return nil }

func (d *levelDriver) ReadPin(pin int) (gpio.Level, error) {
	if d.err != nil {
		return gpio.Low, d.err
	}
	return d.levels[pin], nil
}

func (d *levelDriver) set(a, b int, state uint8) {
	d.levels[a] = state&2 != 0
	d.levels[b] = state&1 != 0
}

// forward is one full electrical cycle with A leading B.
var forward = []uint8{0b10, 0b11, 0b01, 0b00}

func drive(t *testing.T, d *levelDriver, q *Quadrature, seq []uint8, cycles int) {
	t.Helper()
	for i := 0; i < cycles; i++ {
		for _, s := range seq {
			d.set(q.cfg.PinA, q.cfg.PinB, s)
			if err := q.Poll(); err != nil {
				t.Fatalf("Poll: %v", err)
			}
		}
	}
}

func reverse(seq []uint8) []uint8 {
	// walking the cycle backwards from 00: 01, 11, 10, 00
	out := make([]uint8, 0, len(seq))
	for i := len(seq) - 2; i >= 0; i-- {
		out = append(out, seq[i])
	}
	return append(out, seq[len(seq)-1])
}

func TestQuadrature_Directions(t *testing.T) {
	tests := []struct {
		name   string
		seq    []uint8
		invert bool
		want   int32
	}{
		{"forward", forward, false, 12},
		{"backward", reverse(forward), false, -12},
		{"inverted_forward", forward, true, -12},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := newLevelDriver()
			q, err := NewQuadrature(d, Config{PinA: 5, PinB: 6, Invert: tc.invert})
			if err != nil {
				t.Fatalf("NewQuadrature: %v", err)
			}
			drive(t, d, q, tc.seq, 3)
			if got := q.Count(); got != tc.want {
				t.Errorf("count = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestQuadrature_NoChangeNoCount(t *testing.T) {
	d := newLevelDriver()
	q, _ := NewQuadrature(d, Config{PinA: 5, PinB: 6})
	for i := 0; i < 10; i++ {
		_ = q.Poll()
	}
	if q.Count() != 0 {
		t.Errorf("count = %d, want 0", q.Count())
	}
}

func TestQuadrature_MissedTransition(t *testing.T) {
	d := newLevelDriver()
	q, _ := NewQuadrature(d, Config{PinA: 5, PinB: 6})
	d.set(5, 6, 0b11) // both channels changed between polls
	_ = q.Poll()
	if q.Count() != 0 {
		t.Errorf("count = %d, want 0", q.Count())
	}
	if q.Missed() != 1 {
		t.Errorf("missed = %d, want 1", q.Missed())
	}
}

func TestQuadrature_Reset(t *testing.T) {
	d := newLevelDriver()
	q, _ := NewQuadrature(d, Config{PinA: 5, PinB: 6})
	drive(t, d, q, forward, 2)
	q.Reset()
	if q.Count() != 0 {
		t.Fatalf("count after reset = %d", q.Count())
	}
	drive(t, d, q, forward, 1)
	if q.Count() != 4 {
		t.Errorf("count = %d, want 4", q.Count())
	}
}

func TestQuadrature_ReadError(t *testing.T) {
	d := newLevelDriver()
	q, _ := NewQuadrature(d, Config{PinA: 5, PinB: 6})
	d.err = errors.New("bus")
	if err := q.Poll(); err == nil {
		t.Error("expected read error")
	}
}

func TestOdometer_ResetBoth(t *testing.T) {
	d := newLevelDriver()
	l, _ := NewQuadrature(d, Config{PinA: 5, PinB: 6})
	r, _ := NewQuadrature(d, Config{PinA: 20, PinB: 21})
	o := NewOdometer(l, r)

	drive(t, d, l, forward, 1)
	drive(t, d, r, forward, 2)
	if o.Left() != 4 || o.Right() != 8 {
		t.Fatalf("odometry = %d/%d, want 4/8", o.Left(), o.Right())
	}
	o.Reset()
	if o.Left() != 0 || o.Right() != 0 {
		t.Errorf("odometry after reset = %d/%d", o.Left(), o.Right())
	}
}

func TestOdometer_RunStopsOnCancel(t *testing.T) {
	d := newLevelDriver()
	l, _ := NewQuadrature(d, Config{PinA: 5, PinB: 6})
	r, _ := NewQuadrature(d, Config{PinA: 20, PinB: 21})
	o := NewOdometer(l, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, time.Millisecond) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
