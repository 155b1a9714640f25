package maneuver

import (
	"fmt"
	"strings"
)

// Kind selects which controller runs a maneuver.
type Kind int

const (
	Drive Kind = iota // straight move, target in centimeters
	Turn              // in-place tank turn, target in degrees
)

func (k Kind) String() string {
	switch k {
	case Drive:
		return "DRIVE"
	case Turn:
		return "TURN"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts "drive" or "turn" (case-insensitive).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drive":
		return Drive, nil
	case "turn":
		return Turn, nil
	default:
		return 0, fmt.Errorf("unknown maneuver kind %q (want drive or turn)", s)
	}
}

// Maneuver is one step of a plan.
type Maneuver struct {
	Kind   Kind
	Target float64 // cm for Drive, degrees for Turn
}

func (m Maneuver) String() string {
	unit := "cm"
	if m.Kind == Turn {
		unit = "deg"
	}
	return fmt.Sprintf("%s %g%s", m.Kind, m.Target, unit)
}

// Plan is an immutable ordered list of maneuvers, traversed once per run.
type Plan struct {
	steps []Maneuver
}

// NewPlan copies ms into a new plan.
func NewPlan(ms ...Maneuver) Plan {
	steps := make([]Maneuver, len(ms))
	copy(steps, ms)
	return Plan{steps: steps}
}

// DefaultPlan is the competition course: forward, quarter turn, forward,
// quarter turn, forward.
func DefaultPlan() Plan {
	return NewPlan(
		Maneuver{Kind: Drive, Target: 25},
		Maneuver{Kind: Turn, Target: 90},
		Maneuver{Kind: Drive, Target: 30},
		Maneuver{Kind: Turn, Target: 90},
		Maneuver{Kind: Drive, Target: 25},
	)
}

func (p Plan) Len() int { return len(p.steps) }

// LastIndex returns the index of the final maneuver, or -1 for an empty plan.
func (p Plan) LastIndex() int { return len(p.steps) - 1 }

// At returns the maneuver at index i.
func (p Plan) At(i int) (Maneuver, bool) {
	if i < 0 || i >= len(p.steps) {
		return Maneuver{}, false
	}
	return p.steps[i], true
}

// Maneuvers returns a copy of the steps.
func (p Plan) Maneuvers() []Maneuver {
	out := make([]Maneuver, len(p.steps))
	copy(out, p.steps)
	return out
}
