// Package climb drives the lift actuator. A sustained current above the
// stall threshold means the actuator hit its travel limit: the machine then
// holds for a while and descends on its own.
package climb

import (
	"fmt"

	"github.com/cjeanneret/ClimbGo/internal/config"
	"github.com/cjeanneret/ClimbGo/internal/debug"
	"github.com/cjeanneret/ClimbGo/internal/telemetry"
)

// State is a climb state machine state.
type State int

const (
	Stopped State = iota
	Up
	Down
	Hold
	stateCount
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	case Hold:
		return "HOLD"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CurrentSensor reads the actuator motor current in raw sensor units.
type CurrentSensor interface {
	ReadCurrent() int
}

// Actuator commands the lift motor. Positive power lifts.
type Actuator interface {
	SetPower(power int) error
}

// Settings holds the climb constants.
type Settings struct {
	CurrentThreshold int
	StallDebounceMs  uint64
	HoldPower        int
	UpPower          int
	DownPower        int
	HoldTimeMs       uint64
}

// NewSettings builds the settings from configuration.
func NewSettings(cfg *config.Config) Settings {
	return Settings{
		CurrentThreshold: cfg.Climb.CurrentThreshold,
		StallDebounceMs:  uint64(cfg.Climb.StallDebounceMs),
		HoldPower:        cfg.Climb.HoldPower,
		UpPower:          cfg.Climb.UpPower,
		DownPower:        cfg.Climb.DownPower,
		HoldTimeMs:       uint64(cfg.Climb.HoldTimeMs),
	}
}

// Status is the climb control record.
type Status struct {
	State         State  `json:"state"`
	StateEntry    uint64 `json:"state_entry"`
	StallDeadline uint64 `json:"stall_deadline"` // 0 = not stalling
	Current       int    `json:"current"`
	Power         int    `json:"power"`
}

// Machine is the climb state machine. Like the drive machine it is owned by
// the scheduler goroutine.
type Machine struct {
	set      Settings
	sensor   CurrentSensor
	actuator Actuator
	sink     telemetry.Sink

	st Status
}

type handler func(m *Machine, now uint64) State

var handlers = [stateCount]handler{
	Stopped: (*Machine).tickStopped,
	Up:      (*Machine).tickUp,
	Down:    (*Machine).tickDown,
	Hold:    (*Machine).tickHold,
}

// NewMachine creates a machine in STOPPED. sink may be nil.
func NewMachine(set Settings, sensor CurrentSensor, actuator Actuator, sink telemetry.Sink) *Machine {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &Machine{set: set, sensor: sensor, actuator: actuator, sink: sink}
}

func (m *Machine) State() State   { return m.st.State }
func (m *Machine) Status() Status { return m.st }

// Start begins ascending. Already ascending is a no-op.
func (m *Machine) Start(now uint64) {
	if m.st.State == Up {
		return
	}
	m.enter(Up, now)
}

// Stop forces STOPPED and cuts actuator power immediately.
func (m *Machine) Stop(now uint64) {
	if m.st.State != Stopped {
		m.enter(Stopped, now)
	}
	m.command(0)
}

// Handle runs one tick: stall detection first, then the state's actuation.
func (m *Machine) Handle(now uint64) {
	if m.detectStall(now) && (m.st.State == Up || m.st.State == Down) {
		debug.Live("Climb: stall confirmed at %d (current %d)", now, m.st.Current)
		m.enter(Hold, now)
	}

	next := handlers[m.st.State](m, now)
	if next != m.st.State {
		m.enter(next, now)
		// Actuate the new state on the same tick.
		handlers[next](m, now)
	}

	m.sink.ClimbSample(telemetry.ClimbSample{
		At:            now,
		State:         m.st.State.String(),
		Current:       m.st.Current,
		Power:         m.st.Power,
		StallDeadline: m.st.StallDeadline,
	})
}

// detectStall updates the debounce deadline and reports a confirmed stall.
func (m *Machine) detectStall(now uint64) bool {
	c := m.sensor.ReadCurrent()
	m.st.Current = c

	switch {
	case c < m.set.CurrentThreshold:
		m.st.StallDeadline = 0
		return false
	case m.st.StallDeadline == 0:
		// Arming never confirms, even with a zero debounce.
		m.st.StallDeadline = now + m.set.StallDebounceMs
		return false
	default:
		return now >= m.st.StallDeadline
	}
}

func (m *Machine) tickStopped(now uint64) State {
	m.command(0)
	return Stopped
}

func (m *Machine) tickUp(now uint64) State {
	m.command(m.set.UpPower)
	return Up
}

func (m *Machine) tickDown(now uint64) State {
	m.command(m.set.DownPower)
	return Down
}

func (m *Machine) tickHold(now uint64) State {
	if now-m.st.StateEntry >= m.set.HoldTimeMs {
		return Down
	}
	m.command(m.set.HoldPower)
	return Hold
}

func (m *Machine) enter(next State, now uint64) {
	prev := m.st.State
	dwell := now - m.st.StateEntry
	m.st.State = next
	m.st.StateEntry = now

	m.sink.Transition(telemetry.Transition{
		Machine: telemetry.MachineClimb,
		From:    prev.String(),
		To:      next.String(),
		DwellMs: dwell,
		At:      now,
	})
}

func (m *Machine) command(power int) {
	if err := m.actuator.SetPower(power); err != nil {
		debug.Error(fmt.Errorf("climb: set power %d: %w", power, err))
		if err := m.actuator.SetPower(0); err != nil {
			debug.Error(fmt.Errorf("climb: zero power: %w", err))
		}
		power = 0
	}
	m.st.Power = power
}
