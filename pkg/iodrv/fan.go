package iodrv

import (
	"sync"

	"deltapi/pkg/sched"
)

// Fan is a PWM-controlled cooling fan (M106/M107).
type Fan struct {
	NopDriver
	mu sync.Mutex

	name      string
	pin       sched.Pin
	maxPower  float64
	cycleTime float64
	duty      float64
}

// NewFan builds a fan driver.
func NewFan(name string, pin sched.Pin, maxPower, cycleTime float64) *Fan {
	if maxPower <= 0 || maxPower > 1 {
		maxPower = 1
	}
	if cycleTime <= 0 {
		cycleTime = 0.01
	}
	return &Fan{name: name, pin: pin, maxPower: maxPower, cycleTime: cycleTime}
}

// Name implements Driver.
func (f *Fan) Name() string { return f.name }

// IsFan implements Driver.
func (f *Fan) IsFan() bool { return true }

// SetFanDuty implements Driver: clamp and apply immediately.
func (f *Fan) SetFanDuty(cb Callback, duty float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	duty = clampF(duty, 0, 1) * f.maxPower
	f.duty = duty
	cb.SchedPWM(f.pin, duty, f.cycleTime)
}

// Duty returns the last commanded duty cycle.
func (f *Fan) Duty() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duty
}
