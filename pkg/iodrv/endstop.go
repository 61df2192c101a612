package iodrv

import (
	"deltapi/pkg/sched"
)

// PinReader reads a digital input from the hardware backend.
type PinReader func(pin sched.Pin) bool

// Endstop is a limit switch sensed through the hardware backend. The
// home step generators consult Triggered between steps.
type Endstop struct {
	NopDriver

	name     string
	pin      sched.Pin
	read     PinReader
	inverted bool
}

// NewEndstop builds an endstop driver. inverted flips the electrical
// sense (normally-closed switches).
func NewEndstop(name string, pin sched.Pin, read PinReader, inverted bool) *Endstop {
	return &Endstop{name: name, pin: pin, read: read, inverted: inverted}
}

// Name implements Driver.
func (e *Endstop) Name() string { return e.name }

// IsEndstop implements Driver.
func (e *Endstop) IsEndstop() bool { return true }

// Triggered implements Driver with a fresh read of the switch.
func (e *Endstop) Triggered() bool {
	v := e.read(e.pin)
	if e.inverted {
		return !v
	}
	return v
}
