package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/cjeanneret/ClimbGo/internal/clock"
	"github.com/cjeanneret/ClimbGo/internal/config"
	"github.com/cjeanneret/ClimbGo/internal/console"
	"github.com/cjeanneret/ClimbGo/internal/debug"
	"github.com/cjeanneret/ClimbGo/internal/hw/adc"
	"github.com/cjeanneret/ClimbGo/internal/hw/encoder"
	"github.com/cjeanneret/ClimbGo/internal/hw/gpio"
	"github.com/cjeanneret/ClimbGo/internal/hw/motor"
	"github.com/cjeanneret/ClimbGo/internal/hw/sim"
	"github.com/cjeanneret/ClimbGo/internal/logic/climb"
	"github.com/cjeanneret/ClimbGo/internal/logic/drive"
	"github.com/cjeanneret/ClimbGo/internal/logic/geometry"
	"github.com/cjeanneret/ClimbGo/internal/logic/motion"
	"github.com/cjeanneret/ClimbGo/internal/logic/runner"
	"github.com/cjeanneret/ClimbGo/internal/telemetry"
	"github.com/cjeanneret/ClimbGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4); -1 keeps the config value")
	simulate := flag.Bool("simulate", false, "run against the simulated plant instead of the hardware")
	withConsole := flag.Bool("console", false, "start the interactive operator console")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	overrides := cliOverrides{DebugLevel: *debugLevel, Simulate: *simulate}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides)

	if err := run(ctx, cfg, *cfgPath, webPort.port(), *withConsole); err != nil {
		cancel()
		log.Fatalf("%v", err)
	}
}

// run wires the platform, telemetry and state machines, then serves until
// ctx is cancelled, the console exits or a component fails.
func run(ctx context.Context, cfg *config.Config, cfgPath string, webPort int, withConsole bool) error {
	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Summary("ClimbGo motion control")
	debug.Section("Initialization")
	debug.Value("Config path", cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Simulate", cfg.Defaults.Simulate)
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)

	debug.Step(1, "Initializing platform")
	plat, err := newPlatform(cfg)
	if err != nil {
		return fmt.Errorf("init platform: %w", err)
	}
	defer plat.close()

	debug.Step(2, "Initializing telemetry")
	var broadcaster *web.StatusBroadcaster
	if webPort > 0 {
		broadcaster = web.NewStatusBroadcaster()
		broadcaster.SetSampleEvery(cfg.Telemetry.SampleEvery)
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	}
	sink, closeSink, err := newSink(cfg, broadcaster)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer closeSink()

	debug.Step(3, "Creating state machines")
	plan := cfg.Maneuvers()
	tuning := drive.NewTuning(cfg)
	debug.PrintStruct("Drive tuning", tuning)
	driveMachine := drive.NewMachine(plan, tuning, geometry.NewConverter(cfg), plat.odometer,
		motion.NewDrivetrain(plat.left, plat.right), sink)
	climbSettings := climb.NewSettings(cfg)
	debug.PrintStruct("Climb settings", climbSettings)
	climbMachine := climb.NewMachine(climbSettings, plat.current, plat.lift, sink)

	r := runner.New(driveMachine, climbMachine, clock.NewSystem(), runner.Options{
		TickInterval: cfg.TickInterval(),
		AutoStart:    cfg.Defaults.AutoStart,
		AutoClimb:    cfg.Defaults.AutoClimb,
		BeforeTick:   plat.beforeTick,
	})

	debug.Section("Running")
	debug.Info("Plan: %d maneuvers, tick %s", plan.Len(), cfg.TickInterval())

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("%s: %w", name, err)
				stop()
			}
		}()
	}

	if plat.poll != nil {
		spawn("encoders", plat.poll)
	}
	spawn("runner", r.Run)

	if webPort > 0 {
		srv := web.NewServer(fmt.Sprintf(":%d", webPort), broadcaster, r, buildConfigView(cfg))
		spawn("web server", srv.Run)
	}

	if withConsole {
		shell := console.New(r, plan)
		spawn("console", func(ctx context.Context) error {
			err := shell.Run(ctx)
			// Leaving the shell ends the program.
			stop()
			return err
		})
	}

	wg.Wait()
	close(errs)
	var failed []error
	for err := range errs {
		failed = append(failed, err)
	}
	debug.Section("Shutdown complete")
	return errors.Join(failed...)
}

// cliOverrides holds the command line values that override the config.
// DebugLevel -1 means "keep the config value"; Simulate only ever turns the
// simulator on.
type cliOverrides struct {
	DebugLevel int
	Simulate   bool
}

func validateCLIOverrides(o cliOverrides) error {
	if o.DebugLevel < -1 || o.DebugLevel > 4 {
		return fmt.Errorf("debug must be between 0 and 4, got %d", o.DebugLevel)
	}
	return nil
}

// applyOverrides mutates cfg with overrides.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.DebugLevel >= 0 {
		cfg.Defaults.DebugLevel = o.DebugLevel
	}
	if o.Simulate {
		cfg.Defaults.Simulate = true
	}
}

// platform is what the state machines run against: either the real robot or
// the simulator.
type platform struct {
	odometer          drive.Odometer
	left, right, lift motor.Motor
	current           climb.CurrentSensor

	beforeTick func(now uint64)
	poll       func(ctx context.Context) error // background sampling, nil when not needed

	closers []io.Closer
}

func (p *platform) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			log.Printf("closing platform failed: %v", err)
		}
	}
}

func newPlatform(cfg *config.Config) (*platform, error) {
	if cfg.Defaults.Simulate {
		plant := sim.NewPlant(cfg.Sim, cfg.Geometry.MaxPower)
		return &platform{
			odometer:   plant,
			left:       plant.LeftMotor(),
			right:      plant.RightMotor(),
			lift:       plant.LiftMotor(),
			current:    plant,
			beforeTick: plant.Advance,
		}, nil
	}

	hw := cfg.Hardware
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO, hw.LeftMotor.PWMFreqHz)
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	p := &platform{closers: []io.Closer{g}}
	fail := func(err error) (*platform, error) {
		p.close()
		return nil, err
	}

	maxPower := cfg.Geometry.MaxPower
	bridges := []struct {
		name string
		mc   config.MotorConfig
		dst  *motor.Motor
	}{
		{"left", hw.LeftMotor, &p.left},
		{"right", hw.RightMotor, &p.right},
		{"climb", hw.ClimbMotor, &p.lift},
	}
	for _, b := range bridges {
		m, err := motor.NewHBridge(g, motorConfig(b.name, b.mc, maxPower))
		if err != nil {
			return fail(err)
		}
		*b.dst = m
		debug.PrintStruct(b.name+" motor config", b.mc)
	}

	left, err := encoder.NewQuadrature(g, encoder.Config(hw.LeftEncoder))
	if err != nil {
		return fail(fmt.Errorf("left encoder: %w", err))
	}
	right, err := encoder.NewQuadrature(g, encoder.Config(hw.RightEncoder))
	if err != nil {
		return fail(fmt.Errorf("right encoder: %w", err))
	}
	odo := encoder.NewOdometer(left, right)
	p.odometer = odo
	poll := cfg.EncoderPoll()
	p.poll = func(ctx context.Context) error { return odo.Run(ctx, poll) }

	if cfg.Defaults.MockGPIO {
		p.current = adc.Fixed(cfg.Sim.IdleCurrent)
		return p, nil
	}
	cs := hw.CurrentSensor
	bus, err := adc.OpenRPiSPI(cs.SPIChipSelect, cs.SPISpeedHz)
	if err != nil {
		return fail(err)
	}
	p.closers = append(p.closers, bus)
	sensor, err := adc.NewMCP3208(bus, cs.Channel)
	if err != nil {
		return fail(err)
	}
	p.current = sensor
	return p, nil
}

func motorConfig(name string, mc config.MotorConfig, maxPower int) motor.Config {
	return motor.Config{
		Name:      name,
		EnablePin: mc.EnablePin,
		PinA:      mc.PinA,
		PinB:      mc.PinB,
		MaxPower:  maxPower,
	}
}

// newSink fans telemetry out to the log, the optional serial port and the
// optional web broadcaster. The returned func closes what was opened.
func newSink(cfg *config.Config, b *web.StatusBroadcaster) (telemetry.Sink, func(), error) {
	sinks := []telemetry.Sink{telemetry.Log{}}
	closeFn := func() {}

	if port := cfg.Telemetry.SerialPort; port != "" {
		lines, closer, err := telemetry.OpenSerial(port, cfg.Telemetry.BaudRate, cfg.Telemetry.SampleEvery)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, lines)
		closeFn = func() {
			if err := closer.Close(); err != nil {
				log.Printf("closing serial port failed: %v", err)
			}
		}
	}
	if b != nil {
		sinks = append(sinks, b)
	}
	return telemetry.Multi(sinks...), closeFn, nil
}

// buildConfigView is the read-only configuration served to the web UI.
func buildConfigView(cfg *config.Config) web.ConfigView {
	steps := make([]web.PlanStep, 0, len(cfg.Plan))
	for _, m := range cfg.Maneuvers().Maneuvers() {
		steps = append(steps, web.PlanStep{Kind: strings.ToLower(m.Kind.String()), Target: m.Target})
	}
	return web.ConfigView{
		Plan:           steps,
		TickIntervalMs: cfg.Defaults.TickIntervalMs,
		Tuning:         drive.NewTuning(cfg),
		Climb:          climb.NewSettings(cfg),
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
