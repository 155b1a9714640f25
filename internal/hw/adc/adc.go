// Package adc reads the climb motor current sense through an MCP3208
// 12-bit SPI converter.
package adc

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/ClimbGo/internal/debug"
)

// MaxValue is the full-scale MCP3208 reading.
const MaxValue = 4095

// Bus is a full-duplex SPI exchange: data is written out and overwritten
// with the bytes read back.
type Bus interface {
	Exchange(data []byte) error
}

// MCP3208 samples one single-ended channel.
type MCP3208 struct {
	bus     Bus
	channel uint8

	mu     sync.Mutex
	last   int
	failed bool
}

// NewMCP3208 returns a sensor reading channel (0-7) on bus.
func NewMCP3208(bus Bus, channel int) (*MCP3208, error) {
	if channel < 0 || channel > 7 {
		return nil, fmt.Errorf("adc: channel %d out of range [0, 7]", channel)
	}
	return &MCP3208{bus: bus, channel: uint8(channel)}, nil
}

// Read performs one conversion.
func (m *MCP3208) Read() (int, error) {
	// start bit, single-ended, D2 in the first byte; D1 D0 at the top of the second
	buf := []byte{0x06 | (m.channel >> 2), (m.channel & 0x03) << 6, 0x00}
	if err := m.bus.Exchange(buf); err != nil {
		return 0, fmt.Errorf("adc: spi exchange: %w", err)
	}
	return int(buf[1]&0x0F)<<8 | int(buf[2]), nil
}

// ReadCurrent returns the latest conversion. A failed conversion repeats
// the previous value so a bus glitch neither fakes nor hides a stall.
func (m *MCP3208) ReadCurrent() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.Read()
	if err != nil {
		if !m.failed {
			debug.Error(err)
		}
		m.failed = true
		return m.last
	}
	m.failed = false
	m.last = v
	return v
}

// Fixed is a current sensor that always reports the same value. Used with
// the mock GPIO driver when no simulation runs.
type Fixed int

func (f Fixed) ReadCurrent() int { return int(f) }
