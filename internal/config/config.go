package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/ClimbGo/internal/logic/maneuver"
)

// ErrInvalidPath is returned by ValidateConfigPath for rejected paths.
var ErrInvalidPath = errors.New("invalid config path")

// MaxConfigFileBytes bounds the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// MotorConfig describes an H-bridge channel (L298N/TB6612 style): two
// direction inputs and an optional PWM enable.
type MotorConfig struct {
	EnablePin int `yaml:"enable_pin"`  // PWM speed input (BCM 12/13/18/19). 0 = not used, full power on direction pins
	PinA      int `yaml:"pin_a"`       // IN1, HIGH for positive power
	PinB      int `yaml:"pin_b"`       // IN2, HIGH for negative power
	PWMFreqHz int `yaml:"pwm_freq_hz"` // PWM carrier on the enable pin
}

// EncoderConfig describes a quadrature wheel encoder.
type EncoderConfig struct {
	PinA   int  `yaml:"pin_a"`
	PinB   int  `yaml:"pin_b"`
	Invert bool `yaml:"invert"` // flip count direction (mirrored mounting)
}

// CurrentSensorConfig describes the lift motor current sense input on an MCP3208.
type CurrentSensorConfig struct {
	SPIChipSelect int `yaml:"spi_chip_select"`
	Channel       int `yaml:"channel"` // 0-7
	SPISpeedHz    int `yaml:"spi_speed_hz"`
}

// HardwareConfig groups pin assignments.
type HardwareConfig struct {
	LeftMotor     MotorConfig         `yaml:"left_motor"`
	RightMotor    MotorConfig         `yaml:"right_motor"`
	ClimbMotor    MotorConfig         `yaml:"climb_motor"`
	LeftEncoder   EncoderConfig       `yaml:"left_encoder"`
	RightEncoder  EncoderConfig       `yaml:"right_encoder"`
	CurrentSensor CurrentSensorConfig `yaml:"current_sensor"`
	EncoderPollUs int                 `yaml:"encoder_poll_us"` // quadrature sampling period
}

// ManeuverConfig is one entry of the plan. Kind is "drive" (cm) or "turn" (degrees).
type ManeuverConfig struct {
	Kind   string  `yaml:"kind"`
	Target float64 `yaml:"target"`
}

// DriveConfig holds the straight-line PI tuning.
type DriveConfig struct {
	KP               float64 `yaml:"kp"`
	KI               float64 `yaml:"ki"` // fixed integral increment per post-ramp tick
	SteerKP          float64 `yaml:"steer_kp"`
	SteerCloseKP     float64 `yaml:"steer_close_kp"`     // 0 = disabled
	SteerCloseWindow int     `yaml:"steer_close_window"` // ticks from target where SteerCloseKP applies
	AccelTimeMs      int     `yaml:"accel_time_ms"`
	ToleranceTicks   int     `yaml:"tolerance_ticks"`
}

// TurnConfig holds the tank-turn PI tuning.
type TurnConfig struct {
	KP             float64 `yaml:"kp"`
	KI             float64 `yaml:"ki"`
	AccelTimeMs    int     `yaml:"accel_time_ms"`
	ToleranceTicks int     `yaml:"tolerance_ticks"`
	Clockwise      bool    `yaml:"clockwise"`
}

// BrakeConfig holds the end-of-maneuver braking pulse.
type BrakeConfig struct {
	Power    int     `yaml:"power"`
	TimeMs   int     `yaml:"time_ms"`
	Exponent float64 `yaml:"exponent"` // skew compensation exponent, e.g. 2.2
}

// GeometryConfig describes the wheels and the motor power scale.
type GeometryConfig struct {
	TicksPerRotation     int     `yaml:"ticks_per_rotation"`
	WheelCircumferenceCm float64 `yaml:"wheel_circumference_cm"`
	WheelGapCm           float64 `yaml:"wheel_gap_cm"`
	MaxPower             int     `yaml:"max_power"`
}

// ClimbConfig holds the lift actuator settings.
type ClimbConfig struct {
	CurrentThreshold int `yaml:"current_threshold"` // raw ADC counts
	StallDebounceMs  int `yaml:"stall_debounce_ms"`
	HoldPower        int `yaml:"hold_power"`
	UpPower          int `yaml:"up_power"`
	DownPower        int `yaml:"down_power"`
	HoldTimeMs       int `yaml:"hold_time_ms"`
}

// TelemetryConfig selects the optional serial telemetry output.
type TelemetryConfig struct {
	SerialPort  string `yaml:"serial_port"` // empty = disabled
	BaudRate    int    `yaml:"baud_rate"`
	SampleEvery int    `yaml:"sample_every"` // forward one controller sample every N ticks
}

// SimConfig tunes the simulated platform used with simulate: true.
type SimConfig struct {
	TicksPerPowerSecond float64 `yaml:"ticks_per_power_second"` // wheel ticks per second per unit of power
	RightSkew           float64 `yaml:"right_skew"`             // right wheel speed multiplier
	LiftTravel          float64 `yaml:"lift_travel"`            // lift travel in power-seconds
	StallCurrent        int     `yaml:"stall_current"`
	IdleCurrent         int     `yaml:"idle_current"`

	// Report the right wheel on the left odometer channel and vice versa,
	// like the competition robot's encoder harness.
	CrossedEncoders bool `yaml:"crossed_encoders"`
}

// DefaultsConfig contains generic runtime parameters. Each field can be
// overridden from the environment.
type DefaultsConfig struct {
	TickIntervalMs int  `yaml:"tick_interval_ms" env:"CLIMBGO_TICK_INTERVAL_MS"`
	DebugLevel     int  `yaml:"debug_level" env:"CLIMBGO_DEBUG_LEVEL"` // 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO       bool `yaml:"mock_gpio" env:"CLIMBGO_MOCK_GPIO"`     // true=dev/test, false=real Raspberry Pi
	Simulate       bool `yaml:"simulate" env:"CLIMBGO_SIMULATE"`       // replace motors and sensors with the simulator
	AutoStart      bool `yaml:"auto_start" env:"CLIMBGO_AUTO_START"`   // start the plan on the first tick
	AutoClimb      bool `yaml:"auto_climb" env:"CLIMBGO_AUTO_CLIMB"`   // start climbing once the plan completes
}

// Config aggregates all application configuration.
type Config struct {
	Plan      []ManeuverConfig `yaml:"plan"`
	Drive     DriveConfig      `yaml:"drive"`
	Turn      TurnConfig       `yaml:"turn"`
	Brake     BrakeConfig      `yaml:"brake"`
	Geometry  GeometryConfig   `yaml:"geometry"`
	Climb     ClimbConfig      `yaml:"climb"`
	Hardware  HardwareConfig   `yaml:"hardware"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Sim       SimConfig        `yaml:"sim"`
	Defaults  DefaultsConfig   `yaml:"defaults"`
}

// Default returns the configuration of the competition robot.
func Default() *Config {
	plan := maneuver.DefaultPlan().Maneuvers()
	mcs := make([]ManeuverConfig, 0, len(plan))
	for _, m := range plan {
		mcs = append(mcs, ManeuverConfig{Kind: strings.ToLower(m.Kind.String()), Target: m.Target})
	}
	return &Config{
		Plan: mcs,
		Drive: DriveConfig{
			KP:               2.4,
			KI:               0.05,
			SteerKP:          8.9,
			SteerCloseKP:     13.5,
			SteerCloseWindow: 15,
			AccelTimeMs:      800,
			ToleranceTicks:   5,
		},
		Turn: TurnConfig{
			KP:             8.5,
			KI:             0.15,
			AccelTimeMs:    400,
			ToleranceTicks: 2,
			Clockwise:      true,
		},
		Brake: BrakeConfig{
			Power:    50,
			TimeMs:   100,
			Exponent: 2.2,
		},
		Geometry: GeometryConfig{
			TicksPerRotation:     120,
			WheelCircumferenceCm: 4.2 * math.Pi,
			WheelGapCm:           2.94, // effective gap, calibrated so 90° ≈ 21 ticks
			MaxPower:             255,
		},
		Climb: ClimbConfig{
			CurrentThreshold: 1750,
			StallDebounceMs:  250,
			HoldPower:        0,
			UpPower:          255,
			DownPower:        -255,
			HoldTimeMs:       3000,
		},
		Hardware: HardwareConfig{
			LeftMotor:     MotorConfig{EnablePin: 12, PinA: 23, PinB: 24, PWMFreqHz: 20000},
			RightMotor:    MotorConfig{EnablePin: 13, PinA: 17, PinB: 27, PWMFreqHz: 20000},
			ClimbMotor:    MotorConfig{PinA: 16, PinB: 26},
			LeftEncoder:   EncoderConfig{PinA: 5, PinB: 6},
			RightEncoder:  EncoderConfig{PinA: 20, PinB: 21, Invert: true},
			CurrentSensor: CurrentSensorConfig{SPIChipSelect: 0, Channel: 0, SPISpeedHz: 1000000},
			EncoderPollUs: 100,
		},
		Telemetry: TelemetryConfig{
			BaudRate:    115200,
			SampleEvery: 1,
		},
		Sim: SimConfig{
			TicksPerPowerSecond: 0.5,
			RightSkew:           0.97,
			LiftTravel:          300,
			StallCurrent:        2400,
			IdleCurrent:         600,
			CrossedEncoders:     true,
		},
		Defaults: DefaultsConfig{
			TickIntervalMs: 5,
			DebugLevel:     1,
			MockGPIO:       false,
		},
	}
}

// ValidateConfigPath checks that path names a .yaml file directly inside a
// "configs" directory and contains no parent-directory traversal.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == filepath.Separator }) {
		if part == ".." {
			return fmt.Errorf("%w: %q contains parent directory traversal", ErrInvalidPath, path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("%w: %q must have .yaml extension", ErrInvalidPath, path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("%w: %q must be inside a configs/ directory", ErrInvalidPath, path)
	}
	return nil
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file %s is %d bytes, limit is %d", path, info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies environment overrides and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := env.Parse(&cfg.Defaults); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	for i, m := range c.Plan {
		if _, err := maneuver.ParseKind(m.Kind); err != nil {
			return fmt.Errorf("plan[%d]: %w", i, err)
		}
		if math.IsNaN(m.Target) || math.IsInf(m.Target, 0) || m.Target <= 0 {
			return fmt.Errorf("plan[%d]: target must be finite and > 0, got %g", i, m.Target)
		}
	}

	g := c.Geometry
	if g.TicksPerRotation <= 0 {
		return fmt.Errorf("geometry.ticks_per_rotation must be > 0, got %d", g.TicksPerRotation)
	}
	if g.WheelCircumferenceCm <= 0 {
		return fmt.Errorf("geometry.wheel_circumference_cm must be > 0, got %.2f", g.WheelCircumferenceCm)
	}
	if g.WheelGapCm <= 0 {
		return fmt.Errorf("geometry.wheel_gap_cm must be > 0, got %.2f", g.WheelGapCm)
	}
	if g.MaxPower <= 0 {
		return fmt.Errorf("geometry.max_power must be > 0, got %d", g.MaxPower)
	}

	if c.Drive.AccelTimeMs < 0 || c.Turn.AccelTimeMs < 0 {
		return fmt.Errorf("accel_time_ms must be >= 0")
	}
	if c.Drive.ToleranceTicks <= 0 || c.Turn.ToleranceTicks <= 0 {
		return fmt.Errorf("tolerance_ticks must be > 0")
	}
	if c.Brake.Power < 0 || c.Brake.Power > g.MaxPower {
		return fmt.Errorf("brake.power must be between 0 and %d, got %d", g.MaxPower, c.Brake.Power)
	}
	if c.Brake.TimeMs < 0 {
		return fmt.Errorf("brake.time_ms must be >= 0, got %d", c.Brake.TimeMs)
	}
	if c.Brake.Exponent < 0 || math.IsNaN(c.Brake.Exponent) {
		return fmt.Errorf("brake.exponent must be >= 0, got %g", c.Brake.Exponent)
	}

	cl := c.Climb
	if cl.CurrentThreshold <= 0 {
		return fmt.Errorf("climb.current_threshold must be > 0, got %d", cl.CurrentThreshold)
	}
	if cl.StallDebounceMs < 0 || cl.HoldTimeMs < 0 {
		return fmt.Errorf("climb durations must be >= 0")
	}
	for name, p := range map[string]int{"hold_power": cl.HoldPower, "up_power": cl.UpPower, "down_power": cl.DownPower} {
		if p < -g.MaxPower || p > g.MaxPower {
			return fmt.Errorf("climb.%s must be within ±%d, got %d", name, g.MaxPower, p)
		}
	}
	if cl.UpPower == 0 || cl.DownPower == 0 || (cl.UpPower > 0) == (cl.DownPower > 0) {
		return fmt.Errorf("climb.up_power and climb.down_power must be nonzero with opposite signs, got %d and %d", cl.UpPower, cl.DownPower)
	}
	// Without a PWM enable pin the H-bridge is on or off, so any nonzero
	// power runs the lift at full power.
	if !c.Defaults.Simulate && c.Hardware.ClimbMotor.EnablePin == 0 {
		for _, f := range []struct {
			name  string
			power int
		}{{"hold_power", cl.HoldPower}, {"up_power", cl.UpPower}, {"down_power", cl.DownPower}} {
			if f.power != 0 && abs(f.power) != g.MaxPower {
				return fmt.Errorf("climb.%s must be 0 or ±%d when hardware.climb_motor has no enable_pin, got %d", f.name, g.MaxPower, f.power)
			}
		}
	}

	if c.Defaults.TickIntervalMs <= 0 {
		return fmt.Errorf("defaults.tick_interval_ms must be > 0, got %d", c.Defaults.TickIntervalMs)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	if c.Telemetry.SerialPort != "" && c.Telemetry.BaudRate <= 0 {
		return fmt.Errorf("telemetry.baud_rate must be > 0 when serial_port is set")
	}
	if c.Telemetry.SampleEvery <= 0 {
		c.Telemetry.SampleEvery = 1
	}
	if c.Hardware.EncoderPollUs <= 0 {
		c.Hardware.EncoderPollUs = 100
	}
	if ch := c.Hardware.CurrentSensor.Channel; ch < 0 || ch > 7 {
		return fmt.Errorf("hardware.current_sensor.channel must be between 0 and 7, got %d", ch)
	}
	return nil
}

// Maneuvers returns the configured plan as an immutable maneuver.Plan.
// Validate must have succeeded.
func (c *Config) Maneuvers() maneuver.Plan {
	ms := make([]maneuver.Maneuver, 0, len(c.Plan))
	for _, mc := range c.Plan {
		k, _ := maneuver.ParseKind(mc.Kind)
		ms = append(ms, maneuver.Maneuver{Kind: k, Target: mc.Target})
	}
	return maneuver.NewPlan(ms...)
}

// TickInterval returns the scheduler period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Defaults.TickIntervalMs) * time.Millisecond
}

// EncoderPoll returns the quadrature sampling period.
func (c *Config) EncoderPoll() time.Duration {
	return time.Duration(c.Hardware.EncoderPollUs) * time.Microsecond
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
