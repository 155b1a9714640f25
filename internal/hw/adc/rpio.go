package adc

import (
	"fmt"

	"github.com/cjeanneret/ClimbGo/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiSPI is the SPI0 controller of a Raspberry Pi, through go-rpio.
// rpio.Open must have been called (the GPIO driver does it).
type RPiSPI struct{}

// OpenRPiSPI claims SPI0 and selects the chip.
func OpenRPiSPI(chipSelect, speedHz int) (*RPiSPI, error) {
	debug.Info("Initializing SPI0 (cs=%d, %d Hz)", chipSelect, speedHz)
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		return nil, fmt.Errorf("adc: spi begin: %w", err)
	}
	rpio.SpiChipSelect(uint8(chipSelect))
	rpio.SpiSpeed(speedHz)
	return &RPiSPI{}, nil
}

func (RPiSPI) Exchange(data []byte) error {
	rpio.SpiExchange(data)
	return nil
}

func (RPiSPI) Close() error {
	rpio.SpiEnd(rpio.Spi0)
	return nil
}
