// Package telemetry carries observational events out of the control loops.
// Sinks must never influence control: they receive value copies and their
// failures are swallowed.
package telemetry

// Machine names used in events.
const (
	MachineDrive = "drive"
	MachineClimb = "climb"
)

// Transition is emitted on every state change.
type Transition struct {
	Machine string `json:"machine"`
	From    string `json:"from"`
	To      string `json:"to"`
	DwellMs uint64 `json:"dwell_ms"` // time spent in From
	At      uint64 `json:"at"`
}

// DriveSample is emitted on every tick while a motion controller is active.
type DriveSample struct {
	At            uint64  `json:"at"`
	Maneuver      int     `json:"maneuver"`
	Target        int     `json:"target"` // ticks
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

// ClimbSample is emitted on every climb tick.
type ClimbSample struct {
	At            uint64 `json:"at"`
	State         string `json:"state"`
	Current       int    `json:"current"`
	Power         int    `json:"power"`
	StallDeadline uint64 `json:"stall_deadline"`
}

// Sink receives telemetry events.
type Sink interface {
	Transition(Transition)
	DriveSample(DriveSample)
	ClimbSample(ClimbSample)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Transition(Transition)   {}
func (Nop) DriveSample(DriveSample) {}
func (Nop) ClimbSample(ClimbSample) {}

type multi []Sink

func (m multi) Transition(e Transition) {
	for _, s := range m {
		s.Transition(e)
	}
}

func (m multi) DriveSample(e DriveSample) {
	for _, s := range m {
		s.DriveSample(e)
	}
}

func (m multi) ClimbSample(e ClimbSample) {
	for _, s := range m {
		s.ClimbSample(e)
	}
}

// Multi fans events out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var m multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	switch len(m) {
	case 0:
		return Nop{}
	case 1:
		return m[0]
	}
	return m
}

// Recorder keeps every event in memory. Useful in tests and for the status endpoint.
type Recorder struct {
	Transitions  []Transition
	DriveSamples []DriveSample
	ClimbSamples []ClimbSample
}

func (r *Recorder) Transition(e Transition)   { r.Transitions = append(r.Transitions, e) }
func (r *Recorder) DriveSample(e DriveSample) { r.DriveSamples = append(r.DriveSamples, e) }
func (r *Recorder) ClimbSample(e ClimbSample) { r.ClimbSamples = append(r.ClimbSamples, e) }

// TransitionsFor returns the recorded transitions of one machine.
func (r *Recorder) TransitionsFor(machine string) []Transition {
	var out []Transition
	for _, t := range r.Transitions {
		if t.Machine == machine {
			out = append(out, t)
		}
	}
	return out
}
