package geometry

import (
	"math"

	"github.com/cjeanneret/ClimbGo/internal/config"
)

// Converter maps distances and turn angles to encoder ticks using the
// wheel geometry.
type Converter struct {
	ticksPerCm     float64
	turnCmPerDeg   float64 // arc length travelled by each wheel per degree of tank turn
	ticksPerRotate float64
}

// NewConverter creates a converter from configuration.
func NewConverter(cfg *config.Config) *Converter {
	return NewConverterFromGeometry(cfg.Geometry)
}

// NewConverterFromGeometry creates a converter from the geometry section only.
func NewConverterFromGeometry(g config.GeometryConfig) *Converter {
	c := &Converter{ticksPerRotate: float64(g.TicksPerRotation)}
	if g.WheelCircumferenceCm > 0 {
		c.ticksPerCm = float64(g.TicksPerRotation) / g.WheelCircumferenceCm
	}
	// Both wheels travel along a circle whose diameter is the wheel gap.
	c.turnCmPerDeg = g.WheelGapCm * math.Pi / 360.0
	return c
}

// CmToEnc converts a distance in centimeters to encoder ticks (truncated toward zero).
func (c *Converter) CmToEnc(cm float64) int {
	return int(cm * c.ticksPerCm)
}

// EncToCm converts encoder ticks to centimeters.
func (c *Converter) EncToCm(ticks int) float64 {
	if c.ticksPerCm == 0 {
		return 0
	}
	return float64(ticks) / c.ticksPerCm
}

// DegToEnc converts a tank-turn angle in degrees to per-wheel encoder ticks.
func (c *Converter) DegToEnc(deg float64) int {
	return int(deg * c.turnCmPerDeg * c.ticksPerCm)
}

// EncToDeg converts per-wheel encoder ticks back to a tank-turn angle.
func (c *Converter) EncToDeg(ticks int) float64 {
	perDeg := c.turnCmPerDeg * c.ticksPerCm
	if perDeg == 0 {
		return 0
	}
	return float64(ticks) / perDeg
}

// TicksPerCm returns the linear resolution of the odometry.
func (c *Converter) TicksPerCm() float64 {
	return c.ticksPerCm
}
