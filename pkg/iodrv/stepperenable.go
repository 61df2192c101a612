package iodrv

import (
	"sync"

	"deltapi/pkg/sched"
)

// StepperEnable drives the shared enable lines of the stepper drivers.
// M17 locks the motors (holding torque); M18/M84 releases them.
type StepperEnable struct {
	NopDriver
	mu sync.Mutex

	name   string
	pins   []sched.Pin
	locked bool
}

// NewStepperEnable builds the driver for a set of enable pins.
func NewStepperEnable(name string, pins []sched.Pin) *StepperEnable {
	return &StepperEnable{name: name, pins: pins}
}

// Name implements Driver.
func (s *StepperEnable) Name() string { return s.name }

// LockAxis implements Driver: energize every enable line.
func (s *StepperEnable) LockAxis(cb Callback) {
	s.setAll(cb, 1)
	s.mu.Lock()
	s.locked = true
	s.mu.Unlock()
}

// UnlockAxis implements Driver: release every enable line.
func (s *StepperEnable) UnlockAxis(cb Callback) {
	s.setAll(cb, 0)
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
}

// Locked reports whether the motors are currently held.
func (s *StepperEnable) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

func (s *StepperEnable) setAll(cb Callback, duty float64) {
	for _, pin := range s.pins {
		cb.SchedPWM(pin, duty, 0)
	}
}
