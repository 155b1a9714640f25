package drive

import (
	"math"

	"github.com/cjeanneret/ClimbGo/internal/config"
	"github.com/cjeanneret/ClimbGo/internal/hw/motor"
)

// Tuning holds the controller constants. It is built once at startup and
// never changes while the machine runs.
type Tuning struct {
	DriveKP          float64
	DriveKI          float64 // integral increment per post-ramp tick
	DriveSteerKP     float64
	SteerCloseKP     float64 // replaces DriveSteerKP within SteerCloseWindow ticks of the target; 0 disables
	SteerCloseWindow int
	DriveAccelMs     uint64
	DriveTolerance   int // ticks

	TurnKP        float64
	TurnKI        float64
	TurnAccelMs   uint64
	TurnTolerance int // ticks
	Direction     int // +1 clockwise, -1 counter-clockwise

	BrakePower    int
	BrakeMs       uint64
	BrakeExponent float64

	MaxPower int
}

// NewTuning builds the tuning set from configuration.
func NewTuning(cfg *config.Config) Tuning {
	dir := -1
	if cfg.Turn.Clockwise {
		dir = 1
	}
	return Tuning{
		DriveKP:          cfg.Drive.KP,
		DriveKI:          cfg.Drive.KI,
		DriveSteerKP:     cfg.Drive.SteerKP,
		SteerCloseKP:     cfg.Drive.SteerCloseKP,
		SteerCloseWindow: cfg.Drive.SteerCloseWindow,
		DriveAccelMs:     uint64(cfg.Drive.AccelTimeMs),
		DriveTolerance:   cfg.Drive.ToleranceTicks,
		TurnKP:           cfg.Turn.KP,
		TurnKI:           cfg.Turn.KI,
		TurnAccelMs:      uint64(cfg.Turn.AccelTimeMs),
		TurnTolerance:    cfg.Turn.ToleranceTicks,
		Direction:        dir,
		BrakePower:       cfg.Brake.Power,
		BrakeMs:          uint64(cfg.Brake.TimeMs),
		BrakeExponent:    cfg.Brake.Exponent,
		MaxPower:         cfg.Geometry.MaxPower,
	}
}

// Odometry is a snapshot of both wheel counters.
type Odometry struct {
	Left  int32
	Right int32
}

// Output is the result of one controller step. Nothing is shared between
// steps except the Integral value the caller feeds back in.
type Output struct {
	Reached       bool
	TargetTicks   int
	DistanceError int
	SteeringError int
	Left          int
	Right         int
	DistanceP     float64
	SteerP        float64
	Integral      float64 // integral to use on the next step
}

// ramp maps elapsed in [0, accel) linearly onto [0, max).
func ramp(elapsed, accel uint64, max int) float64 {
	if accel == 0 {
		return float64(max)
	}
	return float64(elapsed) * float64(max) / float64(accel)
}

// Straight runs one step of the straight-line PI controller toward
// targetTicks. elapsed is the time since the DRIVE state was entered.
func Straight(t Tuning, targetTicks int, odo Odometry, elapsed uint64, integral float64) Output {
	out := Output{
		TargetTicks:   targetTicks,
		DistanceError: targetTicks - int(odo.Left+odo.Right)/2,
		SteeringError: int(odo.Left - odo.Right),
		Integral:      integral,
	}

	if out.DistanceError < t.DriveTolerance {
		out.Reached = true
		return out
	}

	var forward float64
	if elapsed < t.DriveAccelMs {
		forward = ramp(elapsed, t.DriveAccelMs, t.MaxPower)
	} else {
		out.DistanceP = t.DriveKP * float64(out.DistanceError)
		forward = out.DistanceP + integral
		out.Integral = integral + t.DriveKI
	}

	steerKP := t.DriveSteerKP
	if t.SteerCloseKP > 0 && out.DistanceError <= t.SteerCloseWindow {
		steerKP = t.SteerCloseKP
	}
	out.SteerP = steerKP * float64(out.SteeringError)

	out.Left = motor.Clamp(int(forward+out.SteerP), 0, t.MaxPower)
	out.Right = motor.Clamp(int(forward-out.SteerP), 0, t.MaxPower)
	return out
}

// Rotate runs one step of the tank-turn PI controller. Sides are driven
// in opposite directions: clockwise means left forward, right backward.
func Rotate(t Tuning, targetTicks int, odo Odometry, elapsed uint64, integral float64) Output {
	travelled := (abs32(odo.Left) + abs32(odo.Right)) / 2
	out := Output{
		TargetTicks:   targetTicks,
		DistanceError: targetTicks - int(travelled),
		SteeringError: int(abs32(odo.Left) - abs32(odo.Right)),
		Integral:      integral,
	}

	if out.DistanceError < t.TurnTolerance {
		out.Reached = true
		return out
	}

	var power float64
	if elapsed < t.TurnAccelMs {
		power = ramp(elapsed, t.TurnAccelMs, t.MaxPower)
	} else {
		out.DistanceP = t.TurnKP * float64(out.DistanceError)
		power = out.DistanceP + integral
		out.Integral = integral + t.TurnKI
	}

	signed := int(power) * direction(t.Direction)
	out.Left = motor.Clamp(signed, -t.MaxPower, t.MaxPower)
	out.Right = motor.Clamp(-signed, -t.MaxPower, t.MaxPower)
	return out
}

// BrakeAfterDrive returns the braking powers after a straight move. The
// base power opposes the travel direction and each side is scaled by
// (otherTicks/thisTicks)^exponent using the finished maneuver's odometry.
func BrakeAfterDrive(t Tuning, target float64, odo Odometry) (left, right int) {
	base := -float64(t.BrakePower) * float64(sign(target))
	left = motor.Clamp(int(base*skewRatio(odo.Right, odo.Left, t.BrakeExponent)), -t.MaxPower, t.MaxPower)
	right = motor.Clamp(int(base*skewRatio(odo.Left, odo.Right, t.BrakeExponent)), -t.MaxPower, t.MaxPower)
	return left, right
}

// BrakeAfterTurn returns the braking powers after a tank turn: the mirror
// of the turn direction, without skew compensation.
func BrakeAfterTurn(t Tuning) (left, right int) {
	p := t.BrakePower * direction(t.Direction)
	return motor.Clamp(-p, -t.MaxPower, t.MaxPower), motor.Clamp(p, -t.MaxPower, t.MaxPower)
}

// skewRatio returns (other/this)^exp, or 1 when either count is zero or the
// counts disagree in sign.
func skewRatio(other, this int32, exp float64) float64 {
	if other == 0 || this == 0 || (other > 0) != (this > 0) {
		return 1
	}
	r := math.Pow(float64(other)/float64(this), exp)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 1
	}
	return r
}

func direction(d int) int {
	if d < 0 {
		return -1
	}
	return 1
}

func sign(v float64) int {
	if v < 0 {
		return -1
	}
	return 1
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
