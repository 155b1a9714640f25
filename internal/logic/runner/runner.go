// Package runner is the scheduler: it ticks both state machines at a fixed
// cadence on one goroutine and serializes operator commands onto it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/ClimbGo/internal/clock"
	"github.com/cjeanneret/ClimbGo/internal/debug"
	"github.com/cjeanneret/ClimbGo/internal/logic/climb"
	"github.com/cjeanneret/ClimbGo/internal/logic/drive"
)

var (
	// ErrQueueFull is returned by Submit when commands arrive faster than
	// the control loop drains them.
	ErrQueueFull = errors.New("runner: command queue full")
	// ErrStopped is returned by Submit once Run has returned.
	ErrStopped = errors.New("runner: stopped")
)

const defaultQueueSize = 16

// Options configures the scheduler.
type Options struct {
	TickInterval time.Duration
	AutoStart    bool // toggle the drive on the first tick
	AutoClimb    bool // start the climb when the plan completes
	QueueSize    int

	// BeforeTick runs at the start of every tick, before commands and
	// machines. The simulator uses it to advance its model.
	BeforeTick func(now uint64)
}

// Snapshot is a copy of both control records after a tick.
type Snapshot struct {
	At                uint64       `json:"at"`
	Ticks             uint64       `json:"ticks"`
	Drive             drive.Status `json:"drive"`
	Climb             climb.Status `json:"climb"`
	ReadyForNextPhase bool         `json:"ready_for_next_phase"`
	PlanLength        int          `json:"plan_length"`
}

// Runner owns the drive and climb machines. Only the goroutine calling Run
// (or Step) touches them.
type Runner struct {
	drive *drive.Machine
	climb *climb.Machine
	clock clock.Clock
	opts  Options

	cmds chan Command

	mu      sync.RWMutex
	snap    Snapshot
	stopped bool

	ticks uint64
}

func New(d *drive.Machine, c *climb.Machine, clk clock.Clock, opts Options) *Runner {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 5 * time.Millisecond
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	r := &Runner{
		drive: d,
		climb: c,
		clock: clk,
		opts:  opts,
		cmds:  make(chan Command, opts.QueueSize),
	}
	r.publish(clk.NowMillis())
	return r
}

// Submit queues a command for the next tick. It never blocks.
func (r *Runner) Submit(cmd Command) error {
	r.mu.RLock()
	stopped := r.stopped
	r.mu.RUnlock()
	if stopped {
		return ErrStopped
	}
	select {
	case r.cmds <- cmd:
		debug.Command(cmd.String())
		return nil
	default:
		return ErrQueueFull
	}
}

// Snapshot returns the state published by the latest tick.
func (r *Runner) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Run ticks the machines until ctx is cancelled, then cuts all power and
// returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	debug.Info("Control loop running every %v", r.opts.TickInterval)
	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.safeStop(r.clock.NowMillis())
			return ctx.Err()
		case <-ticker.C:
			r.Step(r.clock.NowMillis())
		}
	}
}

// Step runs one tick at now.
func (r *Runner) Step(now uint64) {
	if r.opts.BeforeTick != nil {
		r.opts.BeforeTick(now)
	}

	r.drain(now)

	if r.ticks == 0 && r.opts.AutoStart && r.drive.State() == drive.Stop {
		debug.Live("Auto start: running plan")
		r.drive.Toggle(now)
	}
	r.ticks++

	finishing := r.drive.IsReadyForNextPhase() && r.drive.State() != drive.Stop
	r.drive.Handle(now)
	if r.opts.AutoClimb && finishing && r.drive.State() == drive.Stop {
		debug.Live("Plan complete: starting climb")
		r.climb.Start(now)
	}
	r.climb.Handle(now)

	r.publish(now)
}

func (r *Runner) drain(now uint64) {
	for {
		select {
		case cmd := <-r.cmds:
			r.execute(cmd, now)
		default:
			return
		}
	}
}

func (r *Runner) execute(cmd Command, now uint64) {
	switch cmd.Op {
	case OpToggle:
		r.drive.Toggle(now)
	case OpClimbStart:
		r.climb.Start(now)
	case OpClimbStop:
		r.climb.Stop(now)
	case OpStopAll:
		r.stopDrive(now)
		r.climb.Stop(now)
	case OpSeek:
		if err := r.drive.Seek(cmd.Index); err != nil {
			debug.Error(fmt.Errorf("seek %d: %w", cmd.Index, err))
		}
	default:
		debug.Error(fmt.Errorf("runner: unknown command %v", cmd))
	}
}

func (r *Runner) stopDrive(now uint64) {
	if r.drive.State() != drive.Stop {
		r.drive.Toggle(now)
	}
}

func (r *Runner) safeStop(now uint64) {
	debug.Info("Control loop stopping: cutting power")
	r.stopDrive(now)
	r.drive.Handle(now)
	r.climb.Stop(now)

	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.publish(now)
}

func (r *Runner) publish(now uint64) {
	s := Snapshot{
		At:                now,
		Ticks:             r.ticks,
		Drive:             r.drive.Status(),
		Climb:             r.climb.Status(),
		ReadyForNextPhase: r.drive.IsReadyForNextPhase(),
		PlanLength:        r.drive.Plan().Len(),
	}
	r.mu.Lock()
	r.snap = s
	r.mu.Unlock()
}
