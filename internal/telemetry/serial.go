package telemetry

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/cjeanneret/ClimbGo/internal/debug"
)

// Lines is a Sink that writes one comma-separated line per event:
//
//	T,<machine>,<from>,<to>,<dwell_ms>,<at>
//	D,<at>,<maneuver>,<target>,<left>,<right>,<dist_err>,<steer_err>,<left_pwr>,<right_pwr>,<p>,<steer_p>,<i>
//	C,<at>,<state>,<current>,<power>,<stall_deadline>
//
// Samples are decimated to one every SampleEvery events; transitions are
// always written.
type Lines struct {
	w          io.Writer
	every      int
	driveCount int
	climbCount int
	failed     bool
}

// NewLines wraps w. every <= 0 is treated as 1.
func NewLines(w io.Writer, every int) *Lines {
	if every <= 0 {
		every = 1
	}
	return &Lines{w: w, every: every}
}

// OpenSerial opens a serial port (e.g. /dev/ttyUSB0) and returns a Lines
// sink writing to it through a Port, plus the Port for closing.
func OpenSerial(portName string, baudRate, every int) (*Lines, io.Closer, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	sp, err := serial.Open(portName, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	debug.Info("Telemetry on serial port %s @ %d baud", portName, baudRate)
	port := NewPort(sp, PortQueue)
	return NewLines(port, every), port, nil
}

// PortQueue is the default number of lines a Port buffers.
const PortQueue = 256

// Port puts a bounded queue between the control loop and a slow writer such
// as a serial line. Write never blocks: the line is copied onto the queue, or
// dropped and counted when the queue is full.
type Port struct {
	w       io.Writer
	queue   chan []byte
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// NewPort starts the writer goroutine for w. depth <= 0 means PortQueue.
func NewPort(w io.Writer, depth int) *Port {
	if depth <= 0 {
		depth = PortQueue
	}
	p := &Port{
		w:     w,
		queue: make(chan []byte, depth),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Port) run() {
	defer close(p.done)
	failed := false
	for {
		select {
		case b := <-p.queue:
			if _, err := p.w.Write(b); err != nil {
				if !failed {
					debug.Error(fmt.Errorf("telemetry write: %w", err))
				}
				failed = true
				continue
			}
			failed = false
		case <-p.stop:
			return
		}
	}
}

func (p *Port) Write(b []byte) (int, error) {
	select {
	case <-p.stop:
		return 0, io.ErrClosedPipe
	default:
	}
	buf := make([]byte, len(b))
	copy(buf, b)
	select {
	case p.queue <- buf:
	default:
		p.dropped.Add(1)
	}
	return len(b), nil
}

// Dropped returns how many lines were discarded because the queue was full.
func (p *Port) Dropped() uint64 { return p.dropped.Load() }

// Close stops the writer goroutine, discarding queued lines, and closes the
// underlying writer if it is an io.Closer. A Write already in progress on
// the underlying writer is waited for.
func (p *Port) Close() error {
	var err error
	p.once.Do(func() {
		close(p.stop)
		<-p.done
		if n := p.dropped.Load(); n > 0 {
			debug.Info("Telemetry port dropped %d lines", n)
		}
		if c, ok := p.w.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func (l *Lines) write(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(l.w, format, args...); err != nil {
		// Report the first failure only; telemetry must not flood the log.
		if !l.failed {
			debug.Error(fmt.Errorf("telemetry write: %w", err))
		}
		l.failed = true
		return
	}
	l.failed = false
}

func (l *Lines) Transition(e Transition) {
	l.write("T,%s,%s,%s,%d,%d\n", e.Machine, e.From, e.To, e.DwellMs, e.At)
}

func (l *Lines) DriveSample(e DriveSample) {
	l.driveCount++
	if (l.driveCount-1)%l.every != 0 {
		return
	}
	l.write("D,%d,%d,%d,%d,%d,%d,%d,%d,%d,%.2f,%.2f,%.2f\n",
		e.At, e.Maneuver, e.Target, e.LeftTicks, e.RightTicks, e.DistanceError, e.SteeringError,
		e.LeftPower, e.RightPower, e.DistanceP, e.SteerP, e.Integral)
}

func (l *Lines) ClimbSample(e ClimbSample) {
	l.climbCount++
	if (l.climbCount-1)%l.every != 0 {
		return
	}
	l.write("C,%d,%s,%d,%d,%d\n", e.At, e.State, e.Current, e.Power, e.StallDeadline)
}
