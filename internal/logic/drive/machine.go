package drive

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/ClimbGo/internal/debug"
	"github.com/cjeanneret/ClimbGo/internal/hw/motor"
	"github.com/cjeanneret/ClimbGo/internal/logic/geometry"
	"github.com/cjeanneret/ClimbGo/internal/logic/maneuver"
	"github.com/cjeanneret/ClimbGo/internal/telemetry"
)

// State is a drive state machine state.
type State int

const (
	Stop State = iota
	Drive
	Turn
	Brake
	stateCount
)

func (s State) String() string {
	switch s {
	case Stop:
		return "STOP"
	case Drive:
		return "DRIVE"
	case Turn:
		return "TURN"
	case Brake:
		return "BRAKE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrNotStopped is returned by Seek while a maneuver is running.
var ErrNotStopped = errors.New("drive: machine is not stopped")

// Odometer is the wheel tick source. Reset must take effect before the next read.
type Odometer interface {
	Left() int32
	Right() int32
	Reset()
}

// Motors commands both drive sides. Powers are in [-MaxPower, MaxPower].
type Motors interface {
	SetPower(left, right int) error
}

// Status is the drive control record. Machine.Status returns a copy.
type Status struct {
	State         State   `json:"state"`
	StateEntry    uint64  `json:"state_entry"`
	ManeuverIndex int     `json:"maneuver_index"`
	Target        int     `json:"target"`
	LeftTicks     int32   `json:"left_ticks"`
	RightTicks    int32   `json:"right_ticks"`
	DistanceError int     `json:"distance_error"`
	SteeringError int     `json:"steering_error"`
	LeftPower     int     `json:"left_power"`
	RightPower    int     `json:"right_power"`
	DistanceP     float64 `json:"distance_p"`
	SteerP        float64 `json:"steer_p"`
	Integral      float64 `json:"integral"`
}

// brakeContext remembers what the BRAKE state is compensating for.
type brakeContext struct {
	kind   maneuver.Kind
	target float64
	odo    Odometry
}

// Machine sequences the maneuver plan: STOP -> DRIVE/TURN -> BRAKE -> next or STOP.
// It is not safe for concurrent use; one scheduler goroutine owns it.
type Machine struct {
	plan   maneuver.Plan
	tuning Tuning
	conv   *geometry.Converter
	odo    Odometer
	motors Motors
	sink   telemetry.Sink

	st    Status
	brake brakeContext
}

// handler runs one tick of a state and returns the state for the next tick.
type handler func(m *Machine, now uint64) State

var handlers = [stateCount]handler{
	Stop:  (*Machine).tickStop,
	Drive: (*Machine).tickDrive,
	Turn:  (*Machine).tickTurn,
	Brake: (*Machine).tickBrake,
}

// NewMachine creates a machine in STOP at maneuver 0. sink may be nil.
func NewMachine(plan maneuver.Plan, tuning Tuning, conv *geometry.Converter, odo Odometer, motors Motors, sink telemetry.Sink) *Machine {
	if sink == nil {
		sink = telemetry.Nop{}
	}
	return &Machine{
		plan:   plan,
		tuning: tuning,
		conv:   conv,
		odo:    odo,
		motors: motors,
		sink:   sink,
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.st.State }

// Status returns a copy of the control record.
func (m *Machine) Status() Status { return m.st }

// Plan returns the maneuver plan.
func (m *Machine) Plan() maneuver.Plan { return m.plan }

// IsReadyForNextPhase reports whether the last maneuver of the plan is the
// current one.
func (m *Machine) IsReadyForNextPhase() bool {
	return m.plan.Len() > 0 && m.st.ManeuverIndex == m.plan.LastIndex()
}

// Toggle starts the current maneuver when stopped, otherwise stops and
// rewinds the plan. With an empty plan it does nothing.
func (m *Machine) Toggle(now uint64) {
	if m.st.State != Stop {
		m.enter(Stop, now)
		return
	}
	mv, ok := m.plan.At(m.st.ManeuverIndex)
	if !ok {
		debug.Live("Drive: toggle ignored, no maneuver at index %d", m.st.ManeuverIndex)
		return
	}
	m.enter(stateFor(mv.Kind), now)
}

// Seek selects the maneuver the next Toggle starts from. Only allowed in STOP.
func (m *Machine) Seek(index int) error {
	if m.st.State != Stop {
		return ErrNotStopped
	}
	if _, ok := m.plan.At(index); !ok {
		return fmt.Errorf("drive: maneuver index %d out of range [0, %d)", index, m.plan.Len())
	}
	m.st.ManeuverIndex = index
	return nil
}

// Handle runs one control tick.
func (m *Machine) Handle(now uint64) {
	next := handlers[m.st.State](m, now)
	if next != m.st.State {
		m.enter(next, now)
	}
}

func (m *Machine) tickStop(now uint64) State {
	m.command(0, 0)
	return Stop
}

func (m *Machine) tickDrive(now uint64) State {
	mv, ok := m.plan.At(m.st.ManeuverIndex)
	if !ok {
		return Stop
	}
	odo := m.read()
	out := Straight(m.tuning, m.conv.CmToEnc(mv.Target), odo, now-m.st.StateEntry, m.st.Integral)
	return m.apply(now, odo, out, Drive)
}

func (m *Machine) tickTurn(now uint64) State {
	mv, ok := m.plan.At(m.st.ManeuverIndex)
	if !ok {
		return Stop
	}
	odo := m.read()
	out := Rotate(m.tuning, m.conv.DegToEnc(mv.Target), odo, now-m.st.StateEntry, m.st.Integral)
	return m.apply(now, odo, out, Turn)
}

// apply records a controller output, commands the motors unless the target
// was reached, and returns the next state.
func (m *Machine) apply(now uint64, odo Odometry, out Output, current State) State {
	m.st.Target = out.TargetTicks
	m.st.LeftTicks, m.st.RightTicks = odo.Left, odo.Right
	m.st.DistanceError = out.DistanceError
	m.st.SteeringError = out.SteeringError
	m.st.DistanceP = out.DistanceP
	m.st.SteerP = out.SteerP
	m.st.Integral = out.Integral

	if !out.Reached {
		m.command(out.Left, out.Right)
	}

	m.sink.DriveSample(telemetry.DriveSample{
		At:            now,
		Maneuver:      m.st.ManeuverIndex,
		Target:        out.TargetTicks,
		LeftTicks:     odo.Left,
		RightTicks:    odo.Right,
		DistanceError: out.DistanceError,
		SteeringError: out.SteeringError,
		LeftPower:     m.st.LeftPower,
		RightPower:    m.st.RightPower,
		DistanceP:     out.DistanceP,
		SteerP:        out.SteerP,
		Integral:      out.Integral,
	})

	if out.Reached {
		return Brake
	}
	return current
}

func (m *Machine) tickBrake(now uint64) State {
	if now-m.st.StateEntry >= m.tuning.BrakeMs {
		if m.st.ManeuverIndex+1 < m.plan.Len() {
			m.st.ManeuverIndex++
			mv, _ := m.plan.At(m.st.ManeuverIndex)
			return stateFor(mv.Kind)
		}
		return Stop
	}

	var left, right int
	if m.brake.kind == maneuver.Turn {
		left, right = BrakeAfterTurn(m.tuning)
	} else {
		left, right = BrakeAfterDrive(m.tuning, m.brake.target, m.brake.odo)
	}
	m.command(left, right)
	return Brake
}

// enter performs the entry actions of next and emits the transition.
func (m *Machine) enter(next State, now uint64) {
	prev := m.st.State
	dwell := now - m.st.StateEntry

	switch next {
	case Drive, Turn:
		m.odo.Reset()
		mv, _ := m.plan.At(m.st.ManeuverIndex)
		debug.Live("Drive: starting maneuver %d/%d (%s)", m.st.ManeuverIndex+1, m.plan.Len(), mv)
		m.st = Status{ManeuverIndex: m.st.ManeuverIndex}
	case Brake:
		mv, _ := m.plan.At(m.st.ManeuverIndex)
		m.brake = brakeContext{kind: mv.Kind, target: mv.Target, odo: m.read()}
	case Stop:
		m.st.ManeuverIndex = 0
		m.command(0, 0)
	}

	m.st.State = next
	m.st.StateEntry = now

	m.sink.Transition(telemetry.Transition{
		Machine: telemetry.MachineDrive,
		From:    prev.String(),
		To:      next.String(),
		DwellMs: dwell,
		At:      now,
	})
}

// command sends powers to the motors. A failed command is followed by a
// best-effort zero command so the robot never keeps an unknown power.
func (m *Machine) command(left, right int) {
	left = motor.Clamp(left, -m.tuning.MaxPower, m.tuning.MaxPower)
	right = motor.Clamp(right, -m.tuning.MaxPower, m.tuning.MaxPower)
	if err := m.motors.SetPower(left, right); err != nil {
		debug.Error(fmt.Errorf("drive: set power %d/%d: %w", left, right, err))
		if err := m.motors.SetPower(0, 0); err != nil {
			debug.Error(fmt.Errorf("drive: zero power: %w", err))
		}
		left, right = 0, 0
	}
	m.st.LeftPower, m.st.RightPower = left, right
}

func (m *Machine) read() Odometry {
	return Odometry{Left: m.odo.Left(), Right: m.odo.Right()}
}

func stateFor(k maneuver.Kind) State {
	if k == maneuver.Turn {
		return Turn
	}
	return Drive
}
