package gpio

import (
	"sync"

	"github.com/cjeanneret/ClimbGo/internal/debug"
)

// Level is a pin's logic level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input, output or hardware PWM.
type PinMode int

const (
	Input PinMode = iota
	Output
	PWM
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	case PWM:
		return "pwm"
	default:
		return "unknown"
	}
}

// Driver is the pin-level surface used by the motors and encoders. The
// Raspberry Pi implementation is RPiDriver; MockDriver runs anywhere.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	// SetPWM sets the duty cycle of a pin configured as PWM: the output is
	// high for duty out of every cycle counts.
	SetPWM(pin int, duty, cycle uint32) error
	Close() error
}

// MockDriver is a test implementation that logs actions and remembers the
// last level written to each pin, so inputs can be driven from tests or
// the simulator.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
}

// NewDriver returns a MockDriver when mock is set, otherwise a go-rpio
// driver with hardware PWM at pwmFreqHz.
func NewDriver(mock bool, pwmFreqHz int) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver(pwmFreqHz)
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels == nil {
		m.levels = make(map[int]Level)
	}
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

func (m *MockDriver) SetPWM(pin int, duty, cycle uint32) error {
	debug.GPIO("SetPWM", pin, [2]uint32{duty, cycle})
	return nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
