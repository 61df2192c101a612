package gcode

import (
	"fmt"

	"github.com/tarm/serial"
)

// SerialConfig selects the host-facing serial port.
type SerialConfig struct {
	Device string
	Baud   int
}

// NewSerialChannel opens a serial port as a stream channel. Hosts like
// OctoPrint and Pronterface talk G-code over this link, so the channel
// is never dieOnEOF: an EOF just means no bytes are ready yet.
func NewSerialChannel(cfg SerialConfig) (*Channel, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Device, Baud: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}
	c := NewChannel(cfg.Device, port, port, false)
	c.closer = port
	return c, nil
}
