// Package sim is a kinematic stand-in for the robot: wheel motors turn into
// encoder ticks and the lift motor moves a carriage between two hard stops.
// It lets the full control stack run on a PC.
package sim

import (
	"math"
	"sync"

	"github.com/cjeanneret/ClimbGo/internal/config"
	"github.com/cjeanneret/ClimbGo/internal/debug"
	"github.com/cjeanneret/ClimbGo/internal/hw/motor"
)

// Plant implements the odometer, the current sensor and the three motor
// channels. Advance moves simulated time forward.
type Plant struct {
	mu       sync.Mutex
	cfg      config.SimConfig
	maxPower int

	left, right, lift int // applied powers

	leftTicks, rightTicks float64 // wheel travel since last reset
	liftPos               float64 // 0 = bottom stop, cfg.LiftTravel = top stop

	last    uint64
	started bool
}

// NewPlant creates a plant at rest with the lift at the bottom stop.
func NewPlant(cfg config.SimConfig, maxPower int) *Plant {
	debug.Info("Using simulated plant (%.2f ticks/power-s, right skew %.2f)", cfg.TicksPerPowerSecond, cfg.RightSkew)
	return &Plant{cfg: cfg, maxPower: maxPower}
}

// Advance integrates the applied powers up to now (milliseconds).
func (p *Plant) Advance(now uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || now <= p.last {
		if !p.started {
			p.started = true
			p.last = now
		}
		return
	}
	dt := float64(now-p.last) / 1000
	p.last = now

	p.leftTicks += float64(p.left) * p.cfg.TicksPerPowerSecond * dt
	p.rightTicks += float64(p.right) * p.cfg.TicksPerPowerSecond * p.cfg.RightSkew * dt

	p.liftPos += float64(p.lift) * dt
	p.liftPos = math.Max(0, math.Min(p.liftPos, p.cfg.LiftTravel))
}

// Left returns the count seen on the left odometer channel.
func (p *Plant) Left() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.CrossedEncoders {
		return int32(p.rightTicks)
	}
	return int32(p.leftTicks)
}

// Right returns the count seen on the right odometer channel.
func (p *Plant) Right() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.CrossedEncoders {
		return int32(p.leftTicks)
	}
	return int32(p.rightTicks)
}

// Reset zeroes both wheel counts.
func (p *Plant) Reset() {
	p.mu.Lock()
	p.leftTicks, p.rightTicks = 0, 0
	p.mu.Unlock()
}

// ReadCurrent models the lift motor current: nothing when unpowered, the
// stall value when pushing into a stop, the running value otherwise.
func (p *Plant) ReadCurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.lift == 0:
		return 0
	case p.lift > 0 && p.liftPos >= p.cfg.LiftTravel, p.lift < 0 && p.liftPos <= 0:
		return p.cfg.StallCurrent
	default:
		return p.cfg.IdleCurrent
	}
}

// LiftPosition returns the carriage position in power-seconds from the
// bottom stop.
func (p *Plant) LiftPosition() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liftPos
}

func (p *Plant) LeftMotor() motor.Motor  { return channel{p, &p.left} }
func (p *Plant) RightMotor() motor.Motor { return channel{p, &p.right} }
func (p *Plant) LiftMotor() motor.Motor  { return channel{p, &p.lift} }

type channel struct {
	p     *Plant
	power *int
}

func (c channel) SetPower(power int) error {
	c.p.mu.Lock()
	*c.power = motor.Clamp(power, -c.p.maxPower, c.p.maxPower)
	c.p.mu.Unlock()
	return nil
}
