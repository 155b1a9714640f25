package motion

import (
	"errors"

	"github.com/cjeanneret/ClimbGo/internal/hw/motor"
)

// Drivetrain pairs the left and right wheel motors of a tank-steered
// chassis. It's the layer between the drive state machine and the
// H-bridges.
type Drivetrain struct {
	left  motor.Motor
	right motor.Motor
}

func NewDrivetrain(left, right motor.Motor) *Drivetrain {
	return &Drivetrain{
		left:  left,
		right: right,
	}
}

// SetPower commands both sides. Both sides are always attempted, so a
// failure on one side never leaves the other at a stale power.
func (d *Drivetrain) SetPower(left, right int) error {
	return errors.Join(d.left.SetPower(left), d.right.SetPower(right))
}

// Stop lets both sides coast.
func (d *Drivetrain) Stop() error {
	return d.SetPower(0, 0)
}
