package drive

import (
	"testing"

	"github.com/cjeanneret/ClimbGo/internal/config"
)

// testTuning uses exactly representable gains so expected powers can be
// written down without rounding surprises.
func testTuning() Tuning {
	return Tuning{
		DriveKP:          2,
		DriveKI:          0.5,
		DriveSteerKP:     8,
		SteerCloseKP:     16,
		SteerCloseWindow: 15,
		DriveAccelMs:     800,
		DriveTolerance:   5,
		TurnKP:           4,
		TurnKI:           0.25,
		TurnAccelMs:      400,
		TurnTolerance:    2,
		Direction:        1,
		BrakePower:       50,
		BrakeMs:          100,
		BrakeExponent:    1,
		MaxPower:         255,
	}
}

func TestNewTuning_FromDefaults(t *testing.T) {
	cfg := config.Default()
	tn := NewTuning(cfg)
	if tn.Direction != 1 {
		t.Errorf("Direction = %d, want 1 for clockwise", tn.Direction)
	}
	if tn.DriveTolerance != 5 || tn.TurnTolerance != 2 {
		t.Errorf("tolerances = %d/%d, want 5/2", tn.DriveTolerance, tn.TurnTolerance)
	}
	if tn.MaxPower != cfg.Geometry.MaxPower {
		t.Errorf("MaxPower = %d, want %d", tn.MaxPower, cfg.Geometry.MaxPower)
	}

	cfg.Turn.Clockwise = false
	if got := NewTuning(cfg).Direction; got != -1 {
		t.Errorf("Direction = %d, want -1 for counter-clockwise", got)
	}
}

func TestStraight_RampFreezesIntegral(t *testing.T) {
	tn := testTuning()
	out := Straight(tn, 1000, Odometry{}, 400, 0.75)

	if out.Reached {
		t.Fatal("should not be reached")
	}
	// half of the ramp: 255 * 400 / 800 = 127.5
	if out.Left != 127 || out.Right != 127 {
		t.Errorf("powers = %d/%d, want 127/127", out.Left, out.Right)
	}
	if out.Integral != 0.75 {
		t.Errorf("integral = %v, want unchanged 0.75 during ramp", out.Integral)
	}
	if out.DistanceP != 0 {
		t.Errorf("DistanceP = %v, want 0 during ramp", out.DistanceP)
	}
}

func TestStraight_PIAfterRamp(t *testing.T) {
	tn := testTuning()
	out := Straight(tn, 110, Odometry{Left: 50, Right: 50}, 900, 1)

	if out.DistanceError != 60 {
		t.Fatalf("DistanceError = %d, want 60", out.DistanceError)
	}
	// P = 2 * 60 = 120, forward = 120 + 1
	if out.Left != 121 || out.Right != 121 {
		t.Errorf("powers = %d/%d, want 121/121", out.Left, out.Right)
	}
	if out.Integral != 1.5 {
		t.Errorf("integral = %v, want 1.5", out.Integral)
	}
}

func TestStraight_Steering(t *testing.T) {
	tn := testTuning()
	// mean 50, error 60, steering error 4, steer P = 8 * 4 = 32
	out := Straight(tn, 110, Odometry{Left: 52, Right: 48}, 900, 0)

	if out.SteeringError != 4 {
		t.Fatalf("SteeringError = %d, want 4", out.SteeringError)
	}
	if out.Left != 152 || out.Right != 88 {
		t.Errorf("powers = %d/%d, want 152/88", out.Left, out.Right)
	}
}

func TestStraight_CloseRangeSteering(t *testing.T) {
	tn := testTuning()
	// error 10 is inside the 15 tick window: steer P = 16 * 2 = 32
	out := Straight(tn, 110, Odometry{Left: 101, Right: 99}, 900, 0)

	if out.SteerP != 32 {
		t.Errorf("SteerP = %v, want 32", out.SteerP)
	}

	tn.SteerCloseKP = 0
	out = Straight(tn, 110, Odometry{Left: 101, Right: 99}, 900, 0)
	if out.SteerP != 16 {
		t.Errorf("SteerP with close gain disabled = %v, want 16", out.SteerP)
	}
}

func TestStraight_NeverReverses(t *testing.T) {
	tn := testTuning()
	// big steering error would push the right side negative
	out := Straight(tn, 110, Odometry{Left: 80, Right: 20}, 900, 0)
	if out.Right != 0 {
		t.Errorf("right power = %d, want 0", out.Right)
	}
	if out.Left != tn.MaxPower {
		t.Errorf("left power = %d, want %d", out.Left, tn.MaxPower)
	}
}

func TestStraight_ReachedThreshold(t *testing.T) {
	tn := testTuning()

	out := Straight(tn, 100, Odometry{Left: 96, Right: 96}, 900, 0)
	if !out.Reached {
		t.Errorf("error 4 should be reached")
	}
	if out.Left != 0 || out.Right != 0 {
		t.Errorf("reached output should carry no power, got %d/%d", out.Left, out.Right)
	}

	out = Straight(tn, 100, Odometry{Left: 95, Right: 95}, 900, 0)
	if out.Reached {
		t.Errorf("error 5 should not be reached")
	}

	out = Straight(tn, 100, Odometry{Left: 130, Right: 130}, 900, 0)
	if !out.Reached {
		t.Errorf("overshoot should be reached")
	}
}

func TestRotate_Direction(t *testing.T) {
	tests := []struct {
		name      string
		direction int
		wantLeft  int
		wantRight int
	}{
		// P = 4 * 10 = 40
		{"clockwise", 1, 40, -40},
		{"counter_clockwise", -1, -40, 40},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tn := testTuning()
			tn.Direction = tc.direction
			out := Rotate(tn, 20, Odometry{Left: 10, Right: -10}, 500, 0)
			if out.Left != tc.wantLeft || out.Right != tc.wantRight {
				t.Errorf("powers = %d/%d, want %d/%d", out.Left, out.Right, tc.wantLeft, tc.wantRight)
			}
		})
	}
}

func TestRotate_UsesAbsoluteTicks(t *testing.T) {
	tn := testTuning()
	out := Rotate(tn, 40, Odometry{Left: -30, Right: 30}, 500, 0)
	if out.DistanceError != 10 {
		t.Errorf("DistanceError = %d, want 10", out.DistanceError)
	}
	if out.Integral != 0.25 {
		t.Errorf("integral = %v, want 0.25", out.Integral)
	}
}

func TestRotate_Ramp(t *testing.T) {
	tn := testTuning()
	out := Rotate(tn, 40, Odometry{}, 200, 0)
	// 255 * 200 / 400 = 127.5
	if out.Left != 127 || out.Right != -127 {
		t.Errorf("powers = %d/%d, want 127/-127", out.Left, out.Right)
	}
	if out.Integral != 0 {
		t.Errorf("integral = %v, want 0 during ramp", out.Integral)
	}
}

func TestRotate_Reached(t *testing.T) {
	tn := testTuning()
	if out := Rotate(tn, 21, Odometry{Left: 20, Right: -20}, 500, 0); !out.Reached {
		t.Error("error 1 should be reached")
	}
	if out := Rotate(tn, 22, Odometry{Left: 20, Right: -20}, 500, 0); out.Reached {
		t.Error("error 2 should not be reached")
	}
}

func TestBrakeAfterDrive(t *testing.T) {
	tests := []struct {
		name      string
		odo       Odometry
		wantLeft  int
		wantRight int
	}{
		{"balanced", Odometry{Left: 200, Right: 200}, -50, -50},
		{"skewed", Odometry{Left: 100, Right: 200}, -100, -25},
		{"left_zero", Odometry{Left: 0, Right: 200}, -50, -50},
		{"sign_mismatch", Odometry{Left: -10, Right: 200}, -50, -50},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l, r := BrakeAfterDrive(testTuning(), 25, tc.odo)
			if l != tc.wantLeft || r != tc.wantRight {
				t.Errorf("brake = %d/%d, want %d/%d", l, r, tc.wantLeft, tc.wantRight)
			}
		})
	}
}

func TestBrakeAfterDrive_ClampsScaledPower(t *testing.T) {
	tn := testTuning()
	tn.BrakeExponent = 2
	// (200/10)^2 = 400, far past max power
	l, _ := BrakeAfterDrive(tn, 25, Odometry{Left: 10, Right: 200})
	if l != -tn.MaxPower {
		t.Errorf("left brake = %d, want %d", l, -tn.MaxPower)
	}
}

func TestBrakeAfterTurn_MirrorsDirection(t *testing.T) {
	tn := testTuning()
	l, r := BrakeAfterTurn(tn)
	if l != -50 || r != 50 {
		t.Errorf("clockwise brake = %d/%d, want -50/50", l, r)
	}

	tn.Direction = -1
	l, r = BrakeAfterTurn(tn)
	if l != 50 || r != -50 {
		t.Errorf("counter-clockwise brake = %d/%d, want 50/-50", l, r)
	}
}
