// Package iodrv holds the pollable I/O drivers: heaters, fans,
// endstops and stepper enable lines. Drivers are serviced from the
// event loop's idle time through a narrow callback interface; the set
// of driver kinds is closed, so dispatch is capability predicates plus
// typed accessors rather than reflection.
package iodrv

import (
	"deltapi/pkg/sched"
)

// Callback grants a driver temporary access to scheduling during an
// idle poll.
type Callback interface {
	// Now returns the scheduler clock in seconds.
	Now() float64

	// SchedPWM reconfigures a PWM pin.
	SchedPWM(pin sched.Pin, duty, maxPeriod float64)
}

// Driver is one pollable I/O device. NopDriver provides default no-op
// implementations of the full method set; concrete drivers embed it and
// override what they support.
type Driver interface {
	// Name identifies the driver in logs.
	Name() string

	// PeekNextEvent returns the driver's next pending output event, or
	// a null event.
	PeekNextEvent() sched.OutputEvent

	// ConsumeNextEvent commits the peeked event.
	ConsumeNextEvent()

	// OnIdleCPU services the driver; returning true requests more CPU
	// without sleeping first.
	OnIdleCPU(cb Callback) bool

	// Capability predicates.
	IsFan() bool
	IsHotend() bool
	IsBed() bool
	IsEndstop() bool

	// Typed accessors; meaningful only on drivers whose predicate is true.
	SetTargetTemp(celsius float64)
	TargetTemp() float64
	CurrentTemp() float64
	SetFanDuty(cb Callback, duty float64)
	LockAxis(cb Callback)
	UnlockAxis(cb Callback)
	Triggered() bool
}

// NopDriver is the zero implementation of Driver.
type NopDriver struct{}

func (NopDriver) Name() string                       { return "nop" }
func (NopDriver) PeekNextEvent() sched.OutputEvent   { return sched.NullEvent() }
func (NopDriver) ConsumeNextEvent()                  {}
func (NopDriver) OnIdleCPU(cb Callback) bool         { return false }
func (NopDriver) IsFan() bool                        { return false }
func (NopDriver) IsHotend() bool                     { return false }
func (NopDriver) IsBed() bool                        { return false }
func (NopDriver) IsEndstop() bool                    { return false }
func (NopDriver) SetTargetTemp(celsius float64)      {}
func (NopDriver) TargetTemp() float64                { return 0 }
func (NopDriver) CurrentTemp() float64               { return 0 }
func (NopDriver) SetFanDuty(cb Callback, duty float64) {}
func (NopDriver) LockAxis(cb Callback)               {}
func (NopDriver) UnlockAxis(cb Callback)             {}
func (NopDriver) Triggered() bool                    { return false }

// PeekEarliestEvent scans all drivers and returns the earliest pending
// event along with the index of its driver, or a null event and -1.
func PeekEarliestEvent(drivers []Driver) (sched.OutputEvent, int) {
	best := sched.NullEvent()
	bestIdx := -1
	for i, d := range drivers {
		evt := d.PeekNextEvent()
		if evt.IsNull() {
			continue
		}
		if bestIdx < 0 || evt.Time < best.Time {
			best, bestIdx = evt, i
		}
	}
	return best, bestIdx
}

// SetHotendTemp sets the target on every hotend driver.
func SetHotendTemp(drivers []Driver, celsius float64) {
	for _, d := range drivers {
		if d.IsHotend() {
			d.SetTargetTemp(celsius)
		}
	}
}

// HotendTemp reads the first hotend's current temperature.
func HotendTemp(drivers []Driver) float64 {
	for _, d := range drivers {
		if d.IsHotend() {
			return d.CurrentTemp()
		}
	}
	return 0
}

// HotendTargetTemp reads the first hotend's target temperature.
func HotendTargetTemp(drivers []Driver) float64 {
	for _, d := range drivers {
		if d.IsHotend() {
			return d.TargetTemp()
		}
	}
	return 0
}

// SetBedTemp sets the target on every bed driver.
func SetBedTemp(drivers []Driver, celsius float64) {
	for _, d := range drivers {
		if d.IsBed() {
			d.SetTargetTemp(celsius)
		}
	}
}

// BedTemp reads the first bed's current temperature.
func BedTemp(drivers []Driver) float64 {
	for _, d := range drivers {
		if d.IsBed() {
			return d.CurrentTemp()
		}
	}
	return 0
}

// LockAllAxes engages every stepper enable line (M17).
func LockAllAxes(drivers []Driver, cb Callback) {
	for _, d := range drivers {
		d.LockAxis(cb)
	}
}

// UnlockAllAxes releases every stepper enable line (M18/M84).
func UnlockAllAxes(drivers []Driver, cb Callback) {
	for _, d := range drivers {
		d.UnlockAxis(cb)
	}
}

// SetFanRate applies a duty cycle to every fan driver (M106/M107).
func SetFanRate(drivers []Driver, cb Callback, duty float64) {
	for _, d := range drivers {
		if d.IsFan() {
			d.SetFanDuty(cb, duty)
		}
	}
}
