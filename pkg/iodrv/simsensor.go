package iodrv

import (
	"math"
	"sync"
)

// SimSensor is a first-order thermal model used by tests and by
// machines built without real temperature sensors.
// Applied heater power pushes the temperature toward
// ambient + duty*gain with time constant tau, so a waiting M109
// eventually observes its target crossed.
type SimSensor struct {
	mu sync.Mutex

	ambient  float64
	gain     float64 // steady-state rise above ambient at full power
	tau      float64 // seconds
	temp     float64
	duty     float64
	lastTime float64
	haveTime bool
}

// NewSimSensor builds a sensor at ambient temperature.
func NewSimSensor(ambient, gain, tau float64) *SimSensor {
	if gain <= 0 {
		gain = 300
	}
	if tau <= 0 {
		tau = 10
	}
	return &SimSensor{ambient: ambient, gain: gain, tau: tau, temp: ambient}
}

// ReadCelsius implements TemperatureSensor.
func (s *SimSensor) ReadCelsius() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temp
}

// Set overrides the model temperature; tests use this to script
// heat-up sequences.
func (s *SimSensor) Set(celsius float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp = celsius
}

// ApplyPower implements PowerSink: advance the model to now under the
// previous duty, then record the new one.
func (s *SimSensor) ApplyPower(duty, now float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveTime {
		dt := now - s.lastTime
		if dt > 0 {
			settle := s.ambient + s.duty*s.gain
			s.temp = settle + (s.temp-settle)*math.Exp(-dt/s.tau)
		}
	}
	s.duty = duty
	s.lastTime = now
	s.haveTime = true
}
