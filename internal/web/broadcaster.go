package web

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/ClimbGo/internal/telemetry"
)

// StatusEvent represents a single status message for SSE and WebSocket
// clients. Telemetry events carry their payload in Data.
type StatusEvent struct {
	Time  string      `json:"t"`
	Level string      `json:"l,omitempty"`
	Msg   string      `json:"msg"`
	Data  interface{} `json:"data,omitempty"`
}

// Levels used for telemetry events.
const (
	LevelTransition = "transition"
	LevelDrive      = "drive"
	LevelClimb      = "climb"
)

// StatusBroadcaster distributes status messages to multiple clients. It is
// also a telemetry.Sink, so the control loop can publish to the web UI.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}

	sampleEvery atomic.Int64
	driveCount  atomic.Int64
	climbCount  atomic.Int64
}

var _ telemetry.Sink = (*StatusBroadcaster)(nil)

// NewStatusBroadcaster creates a new broadcaster forwarding every sample.
func NewStatusBroadcaster() *StatusBroadcaster {
	b := &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
	b.sampleEvery.Store(1)
	return b
}

// SetSampleEvery forwards one controller sample every n. Transitions are
// never decimated.
func (b *StatusBroadcaster) SetSampleEvery(n int) {
	if n <= 0 {
		n = 1
	}
	b.sampleEvery.Store(int64(n))
}

// clientBuffer is the per-subscriber queue depth. A client that falls this far
// behind loses events until it catches up.
const clientBuffer = 64

// Subscribe registers a client. The returned func unregisters it and closes
// the channel; calling it more than once is safe.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, clientBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Broadcast queues {"t":...,"l":level,"msg":msg} on every client without
// blocking.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.BroadcastEvent(level, msg, nil)
}

// BroadcastEvent is Broadcast with a structured payload.
func (b *StatusBroadcaster) BroadcastEvent(level, msg string, data interface{}) {
	evt := StatusEvent{
		Time:  time.Now().Format(time.RFC3339Nano),
		Level: level,
		Msg:   msg,
		Data:  data,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- string(payload):
		default:
			// slow client
		}
	}
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

func (b *StatusBroadcaster) Transition(e telemetry.Transition) {
	b.BroadcastEvent(LevelTransition, fmt.Sprintf("%s: %s -> %s (%d ms)", e.Machine, e.From, e.To, e.DwellMs), e)
}

func (b *StatusBroadcaster) DriveSample(e telemetry.DriveSample) {
	if b.skip(&b.driveCount) {
		return
	}
	b.BroadcastEvent(LevelDrive, "", e)
}

func (b *StatusBroadcaster) ClimbSample(e telemetry.ClimbSample) {
	if b.skip(&b.climbCount) {
		return
	}
	b.BroadcastEvent(LevelClimb, "", e)
}

func (b *StatusBroadcaster) skip(counter *atomic.Int64) bool {
	n := counter.Add(1)
	return (n-1)%b.sampleEvery.Load() != 0
}

// BroadcastWriter adapts b to an io.Writer so debug output reaches the UI.
// Each Write becomes one "info" event; blank writes are dropped.
func BroadcastWriter(b *StatusBroadcaster) io.Writer {
	return lineWriter{b}
}

type lineWriter struct{ b *StatusBroadcaster }

func (w lineWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
