// Package motor drives DC motors through an H-bridge (L298N style: one
// enable input for speed, two inputs for direction).
package motor

import (
	"fmt"

	"github.com/cjeanneret/ClimbGo/internal/debug"
	"github.com/cjeanneret/ClimbGo/internal/hw/gpio"
)

// Motor is a single signed-power channel. Zero means coast.
type Motor interface {
	SetPower(power int) error
}

// Clamp bounds power to [lo, hi]. This is the only place power limits are
// applied, so every caller shares the same bounds semantics.
func Clamp(power, lo, hi int) int {
	if power < lo {
		return lo
	}
	if power > hi {
		return hi
	}
	return power
}

// Config holds the hardware configuration for one H-bridge channel.
type Config struct {
	Name      string
	EnablePin int // hardware PWM pin (BCM). 0 = not wired: the bridge runs full-on / off.
	PinA      int // HIGH with PinB LOW drives forward
	PinB      int
	MaxPower  int
}

// HBridge provides a signed-power API on top of three GPIOs.
type HBridge struct {
	gpio gpio.Driver
	cfg  Config
	last int
	set  bool
}

// NewHBridge configures the pins and leaves the motor coasting.
func NewHBridge(g gpio.Driver, cfg Config) (*HBridge, error) {
	if cfg.MaxPower <= 0 {
		return nil, fmt.Errorf("motor %s: max power must be positive, got %d", cfg.Name, cfg.MaxPower)
	}
	if err := g.SetupPin(cfg.PinA, gpio.Output); err != nil {
		return nil, fmt.Errorf("motor %s: setup pin %d: %w", cfg.Name, cfg.PinA, err)
	}
	if err := g.SetupPin(cfg.PinB, gpio.Output); err != nil {
		return nil, fmt.Errorf("motor %s: setup pin %d: %w", cfg.Name, cfg.PinB, err)
	}
	if cfg.EnablePin > 0 {
		if err := g.SetupPin(cfg.EnablePin, gpio.PWM); err != nil {
			return nil, fmt.Errorf("motor %s: setup pwm pin %d: %w", cfg.Name, cfg.EnablePin, err)
		}
	}

	m := &HBridge{gpio: g, cfg: cfg}
	if err := m.SetPower(0); err != nil {
		return nil, err
	}
	return m, nil
}

// SetPower clamps power to [-MaxPower, MaxPower] and applies it. Repeating
// the current power is a no-op on the pins.
func (m *HBridge) SetPower(power int) error {
	power = Clamp(power, -m.cfg.MaxPower, m.cfg.MaxPower)
	if m.set && power == m.last {
		return nil
	}

	a, b := gpio.Low, gpio.Low
	switch {
	case power > 0:
		a = gpio.High
	case power < 0:
		b = gpio.High
	}

	// Drop the duty before the pins flip so a reversal never runs at the old
	// speed in the new direction.
	reversing := m.last != 0 && (power > 0) != (m.last > 0)
	if m.cfg.EnablePin > 0 && (power == 0 || reversing) {
		if err := m.gpio.SetPWM(m.cfg.EnablePin, 0, uint32(m.cfg.MaxPower)); err != nil {
			return fmt.Errorf("motor %s: %w", m.cfg.Name, err)
		}
	}
	if err := m.gpio.WritePin(m.cfg.PinA, a); err != nil {
		return fmt.Errorf("motor %s: %w", m.cfg.Name, err)
	}
	if err := m.gpio.WritePin(m.cfg.PinB, b); err != nil {
		return fmt.Errorf("motor %s: %w", m.cfg.Name, err)
	}
	if m.cfg.EnablePin > 0 && power != 0 {
		if err := m.gpio.SetPWM(m.cfg.EnablePin, uint32(abs(power)), uint32(m.cfg.MaxPower)); err != nil {
			return fmt.Errorf("motor %s: %w", m.cfg.Name, err)
		}
	}

	debug.Trace("Motor %s: power %d -> %d", m.cfg.Name, m.last, power)
	m.last, m.set = power, true
	return nil
}

// Power returns the last applied power.
func (m *HBridge) Power() int { return m.last }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
