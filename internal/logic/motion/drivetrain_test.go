package motion

import (
	"errors"
	"testing"
)

type fakeMotor struct {
	powers []int
	err    error
}

func (f *fakeMotor) SetPower(p int) error {
	f.powers = append(f.powers, p)
	return f.err
}

func TestDrivetrain_SetPower(t *testing.T) {
	l, r := &fakeMotor{}, &fakeMotor{}
	d := NewDrivetrain(l, r)

	if err := d.SetPower(100, -40); err != nil {
		t.Fatalf("SetPower: %v", err)
	}
	if len(l.powers) != 1 || l.powers[0] != 100 {
		t.Errorf("left powers = %v, want [100]", l.powers)
	}
	if len(r.powers) != 1 || r.powers[0] != -40 {
		t.Errorf("right powers = %v, want [-40]", r.powers)
	}
}

func TestDrivetrain_Stop(t *testing.T) {
	l, r := &fakeMotor{}, &fakeMotor{}
	d := NewDrivetrain(l, r)
	_ = d.SetPower(50, 50)

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if l.powers[1] != 0 || r.powers[1] != 0 {
		t.Errorf("stop powers = %d/%d, want 0/0", l.powers[1], r.powers[1])
	}
}

func TestDrivetrain_LeftFailureStillDrivesRight(t *testing.T) {
	boom := errors.New("left bridge fault")
	l, r := &fakeMotor{err: boom}, &fakeMotor{}
	d := NewDrivetrain(l, r)

	err := d.SetPower(10, 20)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if len(r.powers) != 1 || r.powers[0] != 20 {
		t.Errorf("right powers = %v, want [20]", r.powers)
	}
}
