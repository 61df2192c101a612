// Heater control
//
// Copyright (C) 2026  Deltapi Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package iodrv

import (
	"sync"

	"deltapi/pkg/log"
	"deltapi/pkg/sched"
)

var heaterLog = log.New("iodrv")

// TemperatureSensor reads a heater's temperature in Celsius.
type TemperatureSensor interface {
	ReadCelsius() float64
}

// PowerSink is implemented by simulated sensors that integrate the
// applied heater power into their thermal model.
type PowerSink interface {
	ApplyPower(duty, now float64)
}

// PIDParams holds PID controller gains.
type PIDParams struct {
	Kp float64
	Ki float64
	Kd float64
}

// DefaultPIDParams returns workable gains for a hotend-class heater.
func DefaultPIDParams() PIDParams {
	return PIDParams{Kp: 0.05, Ki: 0.005, Kd: 0.25}
}

// HeaterConfig configures one PID-controlled heater.
type HeaterConfig struct {
	Name      string
	Pin       sched.Pin
	Sensor    TemperatureSensor
	PID       PIDParams
	MaxPower  float64 // PWM duty ceiling, (0, 1]
	CycleTime float64 // maximum PWM period in seconds
	Interval  float64 // control loop period in seconds
	MaxTemp   float64
	Bed       bool // bed heater rather than hotend
}

// Heater is a PID-controlled heater driver. The control loop runs off
// idle CPU; PWM updates go through the callback's scheduler access.
type Heater struct {
	NopDriver
	mu sync.Mutex

	name      string
	pin       sched.Pin
	sensor    TemperatureSensor
	pid       PIDParams
	maxPower  float64
	cycleTime float64
	interval  float64
	maxTemp   float64
	bed       bool

	target     float64
	lastUpdate float64
	integral   float64
	lastErr    float64
	haveErr    bool
}

// NewHeater builds a heater driver.
func NewHeater(cfg HeaterConfig) *Heater {
	if cfg.MaxPower <= 0 || cfg.MaxPower > 1 {
		cfg.MaxPower = 1
	}
	if cfg.CycleTime <= 0 {
		cfg.CycleTime = 0.1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 0.25
	}
	if cfg.MaxTemp <= 0 {
		cfg.MaxTemp = 280
	}
	if cfg.PID == (PIDParams{}) {
		cfg.PID = DefaultPIDParams()
	}
	return &Heater{
		name:      cfg.Name,
		pin:       cfg.Pin,
		sensor:    cfg.Sensor,
		pid:       cfg.PID,
		maxPower:  cfg.MaxPower,
		cycleTime: cfg.CycleTime,
		interval:  cfg.Interval,
		maxTemp:   cfg.MaxTemp,
		bed:       cfg.Bed,
	}
}

// Name implements Driver.
func (h *Heater) Name() string { return h.name }

// IsHotend implements Driver.
func (h *Heater) IsHotend() bool { return !h.bed }

// IsBed implements Driver.
func (h *Heater) IsBed() bool { return h.bed }

// SetTargetTemp implements Driver. Targets above the configured limit
// are clamped.
func (h *Heater) SetTargetTemp(celsius float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if celsius > h.maxTemp {
		heaterLog.Warn("%s: target %.1fC above limit, clamping to %.1fC", h.name, celsius, h.maxTemp)
		celsius = h.maxTemp
	}
	if celsius < 0 {
		celsius = 0
	}
	h.target = celsius
	h.integral = 0
	h.haveErr = false
}

// TargetTemp implements Driver.
func (h *Heater) TargetTemp() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.target
}

// CurrentTemp implements Driver.
func (h *Heater) CurrentTemp() float64 {
	return h.sensor.ReadCelsius()
}

// OnIdleCPU implements Driver: run one PID update per interval.
func (h *Heater) OnIdleCPU(cb Callback) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := cb.Now()
	dt := now - h.lastUpdate
	if dt < h.interval {
		return false
	}
	h.lastUpdate = now

	temp := h.sensor.ReadCelsius()
	duty := 0.0
	if h.target > 0 {
		err := h.target - temp
		h.integral += err * dt
		// Keep the integral from winding far past what full power
		// can act on.
		limit := h.maxPower / maxF(h.pid.Ki, 1e-9)
		h.integral = clampF(h.integral, -limit, limit)
		deriv := 0.0
		if h.haveErr && dt > 0 {
			deriv = (err - h.lastErr) / dt
		}
		h.lastErr = err
		h.haveErr = true
		duty = clampF(h.pid.Kp*err+h.pid.Ki*h.integral+h.pid.Kd*deriv, 0, h.maxPower)
	}

	cb.SchedPWM(h.pin, duty, h.cycleTime)
	if sink, ok := h.sensor.(PowerSink); ok {
		sink.ApplyPower(duty, now)
	}
	return false
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
