package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/ClimbGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// pwmClockDivisor is the number of duty cycle counts per PWM period; the
// PWM clock runs at pwmFreqHz * pwmClockDivisor.
const pwmClockDivisor = 256

const defaultPWMFreqHz = 20000

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
// The encoder poller reads pins while the control loop writes them, so the
// pin table is guarded.
type RPiDriver struct {
	mu      sync.Mutex
	pins    map[int]rpio.Pin
	modes   map[int]PinMode
	pwmFreq int
}

// NewRPiRealDriver maps GPIO memory. It needs /dev/gpiomem, or root for
// hardware PWM (/dev/mem).
func NewRPiRealDriver(pwmFreqHz int) (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped, PWM at %d Hz", pwmFreqHz)

	if pwmFreqHz <= 0 {
		pwmFreqHz = defaultPWMFreqHz
	}
	return &RPiDriver{
		pins:    make(map[int]rpio.Pin),
		modes:   make(map[int]PinMode),
		pwmFreq: pwmFreqHz,
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.setup(pin, mode)
	return err
}

// setup configures pin; r.mu must be held.
func (r *RPiDriver) setup(pin int, mode PinMode) (rpio.Pin, error) {
	debug.GPIO("SetupPin", pin, mode)
	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	case PWM:
		p.Mode(rpio.Pwm)
		p.Freq(r.pwmFreq * pwmClockDivisor)
	default:
		return p, fmt.Errorf("pin %d: unknown pin mode %d", pin, mode)
	}
	r.pins[pin] = p
	r.modes[pin] = mode
	return p, nil
}

// pin returns a configured pin, setting it up in mode on first use.
func (r *RPiDriver) pin(pin int, mode PinMode) (rpio.Pin, error) {
	if p, ok := r.pins[pin]; ok {
		return p, nil
	}
	return r.setup(pin, mode)
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.pin(pin, Output)
	if err != nil {
		return err
	}
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	r.mu.Lock()
	p, err := r.pin(pin, Input)
	r.mu.Unlock()
	if err != nil {
		return Low, err
	}
	return p.Read() == rpio.High, nil
}

func (r *RPiDriver) SetPWM(pin int, duty, cycle uint32) error {
	debug.GPIO("SetPWM", pin, [2]uint32{duty, cycle})
	if duty > cycle {
		return fmt.Errorf("pwm duty %d exceeds cycle %d on pin %d", duty, cycle, pin)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.pin(pin, PWM)
	if err != nil {
		return err
	}
	if r.modes[pin] != PWM {
		return fmt.Errorf("pin %d is %s, not pwm", pin, r.modes[pin])
	}
	p.DutyCycle(duty, cycle)
	return nil
}

// Close drives PWM outputs to zero and returns every pin to input.
func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")
	r.mu.Lock()
	defer r.mu.Unlock()
	for pin, p := range r.pins {
		if r.modes[pin] == PWM {
			p.DutyCycle(0, pwmClockDivisor)
		}
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}
	return rpio.Close()
}
