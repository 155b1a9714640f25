package telemetry

import "github.com/cjeanneret/ClimbGo/internal/debug"

// Log writes events through the debug logger: transitions at Live level,
// controller samples at Verbose level.
type Log struct{}

func (Log) Transition(e Transition) {
	debug.Transition(e.Machine, e.From, e.To, e.DwellMs)
}

func (Log) DriveSample(e DriveSample) {
	if !debug.IsEnabled(debug.LevelVerbose) {
		return
	}
	debug.Verbose("Target: %d, Left: %d, Right: %d, St. Error: %d, St. Power: %.0f, Error: %d, P: %.0f, I: %.2f, Power: %d/%d",
		e.Target, e.LeftTicks, e.RightTicks, e.SteeringError, e.SteerP, e.DistanceError, e.DistanceP, e.Integral, e.LeftPower, e.RightPower)
}

func (Log) ClimbSample(e ClimbSample) {
	if !debug.IsEnabled(debug.LevelVerbose) {
		return
	}
	debug.Verbose("Climb %s: current=%d power=%d stall_deadline=%d", e.State, e.Current, e.Power, e.StallDeadline)
}
