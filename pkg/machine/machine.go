// Machine construction
//
// Copyright (C) 2026  Deltapi Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package machine

import (
	"fmt"

	"deltapi/pkg/coord"
	"deltapi/pkg/gcode"
	"deltapi/pkg/iodrv"
	"deltapi/pkg/motion"
	"deltapi/pkg/sched"
	"deltapi/pkg/state"
)

// Options selects the hardware-facing pieces a Machine is built on.
type Options struct {
	Backend sched.Backend

	// ReadInput samples a digital input pin (endstops).
	ReadInput iodrv.PinReader

	// HotendSensor / BedSensor default to simulated first-order models
	// when nil; the CLI and the tests leave them nil.
	HotendSensor iodrv.TemperatureSensor
	BedSensor    iodrv.TemperatureSensor

	Root           *gcode.Channel
	PersistentRoot bool
	FS             state.FileSystem
}

// Machine bundles everything a running printer needs.
type Machine struct {
	Map       coord.Map
	Planner   *motion.Planner
	Scheduler *sched.Scheduler
	Drivers   []iodrv.Driver
	State     *state.State
}

// Build assembles a machine from a profile. The kinematics kind picks
// the coordinate map and the generator factory; everything downstream
// works through interfaces.
func Build(p *Profile, opts Options) (*Machine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	kind, err := KindFromString(p.Kinematics)
	if err != nil {
		return nil, err
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("machine requires a hardware backend")
	}
	if opts.ReadInput == nil {
		return nil, fmt.Errorf("machine requires an input reader for endstops")
	}

	var stepPins [4]sched.Pin
	for i, pin := range p.Pins.Step {
		stepPins[i] = sched.Pin(pin)
	}
	endstops := make([]iodrv.Driver, 3)
	var endstopReaders [3]motion.EndstopReader
	for i, pin := range p.Pins.Endstop {
		es := iodrv.NewEndstop(fmt.Sprintf("endstop_%c", 'a'+i), sched.Pin(pin), opts.ReadInput, false)
		endstops[i] = es
		endstopReaders[i] = es.Triggered
	}

	var leveler coord.Leveler
	if len(p.BedPoints) == 3 {
		pts := make([]coord.Vec3, 3)
		for i, bp := range p.BedPoints {
			pts[i] = coord.Vec3{X: bp[0], Y: bp[1], Z: bp[2]}
		}
		pl, ok := coord.NewPlaneLeveler(pts[0], pts[1], pts[2])
		if !ok {
			return nil, fmt.Errorf("bed_points are colinear")
		}
		leveler = pl
	}

	var coordMap coord.Map
	var factory motion.GeneratorFactory
	switch kind {
	case KindDelta:
		dm, err := coord.NewDeltaMap(coord.DeltaConfig{
			Radius:      p.Delta.Radius,
			RodLength:   p.Delta.RodLength,
			BuildHeight: p.Delta.BuildHeight,
			PrintRadius: p.Delta.PrintRadius,
			MMSteps:     p.mmSteps(),
			HomeRate:    p.Rates.Home,
		}, leveler)
		if err != nil {
			return nil, err
		}
		coordMap = dm
		factory = &motion.DeltaGenerators{Map: dm, StepPins: stepPins, Endstops: endstopReaders}
	case KindCartesian:
		cm := coord.NewCartesianMap(
			p.mmSteps(),
			coord.Position{},
			coord.Position{X: p.Cartesian.SizeX, Y: p.Cartesian.SizeY, Z: p.Cartesian.SizeZ},
			p.Rates.Home, leveler,
		)
		coordMap = cm
		factory = &motion.CartesianGenerators{Map: cm, StepPins: stepPins, Endstops: endstopReaders}
	}

	var accel motion.AccelerationProfile
	if p.MaxAccel > 0 {
		accel = &motion.TrapezoidalAccel{MaxAccel: p.MaxAccel}
	}
	planner := motion.NewPlanner(coordMap, factory, accel)
	scheduler := sched.New(opts.Backend)

	hotendSensor := opts.HotendSensor
	if hotendSensor == nil {
		hotendSensor = iodrv.NewSimSensor(25, 350, 8)
	}
	bedSensor := opts.BedSensor
	if bedSensor == nil {
		bedSensor = iodrv.NewSimSensor(25, 130, 60)
	}

	enablePins := make([]sched.Pin, len(p.Pins.Enable))
	for i, pin := range p.Pins.Enable {
		enablePins[i] = sched.Pin(pin)
	}

	drivers := []iodrv.Driver{
		iodrv.NewHeater(iodrv.HeaterConfig{
			Name:    "hotend",
			Pin:     sched.Pin(p.Pins.Hotend),
			Sensor:  hotendSensor,
			MaxTemp: p.Heaters.HotendMaxTemp,
		}),
		iodrv.NewHeater(iodrv.HeaterConfig{
			Name:    "bed",
			Pin:     sched.Pin(p.Pins.Bed),
			Sensor:  bedSensor,
			MaxTemp: p.Heaters.BedMaxTemp,
			Bed:     true,
		}),
		iodrv.NewFan("part_fan", sched.Pin(p.Pins.Fan), 1.0, 0.01),
		iodrv.NewStepperEnable("steppers", enablePins),
	}
	drivers = append(drivers, endstops...)

	st := state.New(state.Config{
		Map:                 coordMap,
		Planner:             planner,
		Scheduler:           scheduler,
		Drivers:             drivers,
		FS:                  opts.FS,
		Root:                opts.Root,
		PersistentRoot:      opts.PersistentRoot,
		DefaultMoveRate:     p.Rates.DefaultMove,
		MaxMoveRate:         p.Rates.MaxMove,
		MaxExtrudeRate:      p.Rates.MaxExtrude,
		MaxRetractRate:      p.Rates.MaxRetract,
		HomeBeforeFirstMove: kind == KindDelta,
	})

	return &Machine{
		Map:       coordMap,
		Planner:   planner,
		Scheduler: scheduler,
		Drivers:   drivers,
		State:     st,
	}, nil
}
