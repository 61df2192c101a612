package sched

// Pin is an opaque hardware pin identifier, assigned by the machine
// definition and interpreted only by the hardware backend.
type Pin uint32

// EventKind discriminates output event actions.
type EventKind int

const (
	// EventNull is the absent event.
	EventNull EventKind = iota

	// EventStepForward pulses a stepper one step in its positive direction.
	EventStepForward

	// EventStepBackward pulses a stepper one step in its negative direction.
	EventStepBackward

	// EventSetPWM reconfigures a pin's PWM duty cycle.
	EventSetPWM
)

// OutputEvent is an absolute time point plus an action. Events carry
// only primitives consumable by the hardware backend.
type OutputEvent struct {
	Kind EventKind
	Time float64 // seconds on the scheduler clock
	Pin  Pin

	// PWM payload, valid for EventSetPWM.
	Duty      float64
	MaxPeriod float64
}

// NullEvent returns the absent event.
func NullEvent() OutputEvent {
	return OutputEvent{Kind: EventNull}
}

// StepEvent builds a step pulse at a move-relative time.
func StepEvent(t float64, pin Pin, forward bool) OutputEvent {
	kind := EventStepBackward
	if forward {
		kind = EventStepForward
	}
	return OutputEvent{Kind: kind, Time: t, Pin: pin}
}

// PWMEvent builds a PWM reconfiguration event.
func PWMEvent(t float64, pin Pin, duty, maxPeriod float64) OutputEvent {
	return OutputEvent{Kind: EventSetPWM, Time: t, Pin: pin, Duty: duty, MaxPeriod: maxPeriod}
}

// IsNull reports whether the event is absent.
func (e OutputEvent) IsNull() bool {
	return e.Kind == EventNull
}

// Offset shifts the event by a base time, converting a move-relative
// time into an absolute one.
func (e OutputEvent) Offset(base float64) OutputEvent {
	e.Time += base
	return e
}
