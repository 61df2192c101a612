package sched

import (
	"sync"
)

// PulseRecord is one emitted event kept by the simulated backend.
type PulseRecord struct {
	Event OutputEvent
}

// PWMState is the last commanded duty/period for a pin.
type PWMState struct {
	Duty      float64
	MaxPeriod float64
}

// SimBackend is an in-memory hardware backend. It records every pulse
// and PWM command, exposes settable digital inputs for endstops, and
// models a bounded submission buffer. Used by package tests and by the
// CLI's run command.
type SimBackend struct {
	mu sync.Mutex

	pulses  []PulseRecord
	pwm     map[Pin]PWMState
	inputs  map[Pin]bool
	depth   int
	latency float64

	// FailNext makes the next Queue call fail, for testing the
	// hardware-submission error path.
	FailNext error
}

// NewSimBackend creates a simulated backend with the given buffer depth.
func NewSimBackend(depth int) *SimBackend {
	if depth <= 0 {
		depth = 256
	}
	return &SimBackend{
		pwm:    make(map[Pin]PWMState),
		inputs: make(map[Pin]bool),
		depth:  depth,
	}
}

// Queue implements Backend.
func (b *SimBackend) Queue(evt OutputEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailNext != nil {
		err := b.FailNext
		b.FailNext = nil
		return err
	}
	if evt.IsNull() {
		return nil
	}
	b.pulses = append(b.pulses, PulseRecord{Event: evt})
	return nil
}

// QueuePWM implements Backend.
func (b *SimBackend) QueuePWM(pin Pin, duty, maxPeriod float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if duty < 0 {
		duty = 0
	}
	if duty > 1 {
		duty = 1
	}
	b.pwm[pin] = PWMState{Duty: duty, MaxPeriod: maxPeriod}
	return nil
}

// SchedTime implements Backend; the simulation adds a fixed latency.
func (b *SimBackend) SchedTime(t float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return t + b.latency
}

// SetLatency configures the feasibility latency returned by SchedTime.
func (b *SimBackend) SetLatency(seconds float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency = seconds
}

// BufferRoom implements Backend. The simulation retires events
// immediately, so the configured depth is always available.
func (b *SimBackend) BufferRoom() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.depth
}

// OnIdleCPU implements Backend. The simulation never needs extra CPU.
func (b *SimBackend) OnIdleCPU(interval IdleInterval) bool {
	return false
}

// SetInput sets a simulated digital input, e.g. an endstop switch.
func (b *SimBackend) SetInput(pin Pin, high bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputs[pin] = high
}

// ReadInput reads a simulated digital input.
func (b *SimBackend) ReadInput(pin Pin) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputs[pin]
}

// Pulses returns a copy of all recorded step events.
func (b *SimBackend) Pulses() []PulseRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PulseRecord, len(b.pulses))
	copy(out, b.pulses)
	return out
}

// PulsesFor returns the recorded step events for one pin.
func (b *SimBackend) PulsesFor(pin Pin) []PulseRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []PulseRecord
	for _, p := range b.pulses {
		if p.Event.Pin == pin {
			out = append(out, p)
		}
	}
	return out
}

// PWMFor returns the last commanded PWM state for a pin.
func (b *SimBackend) PWMFor(pin Pin) (PWMState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.pwm[pin]
	return s, ok
}

// Reset discards all recorded output.
func (b *SimBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pulses = nil
	b.pwm = make(map[Pin]PWMState)
}
