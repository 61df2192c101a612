// G-code dispatch
//
// Copyright (C) 2026  Deltapi Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package state

import (
	"deltapi/pkg/coord"
	"deltapi/pkg/gcode"
	"deltapi/pkg/iodrv"
	"deltapi/pkg/log"
)

// Version is reported by M115.
const Version = "1.2.0"

// execute runs one G-code command. Not calling reply defers the
// command: the channel re-presents it on the next poll. That is the
// backpressure path for motion commands while the planner is busy, a
// hotend wait is pending, or homing is in progress.
func (s *State) execute(cmd gcode.Command, reply func(gcode.Response)) {
	switch cmd.Opcode() {
	case "G0", "G1": // linear movement
		if !s.readyForMotion() {
			return
		}
		s.autoHome()
		dest, rate := s.resolveMoveWords(cmd)
		if rate > 0 {
			s.setMoveRate(rate)
		}
		s.queueMovement(dest, s.moveRate, coord.FlagNone)
		reply(gcode.Ok)

	case "G2", "G3": // clockwise / counter-clockwise arc
		if !s.readyForMotion() {
			return
		}
		s.autoHome()
		dest, rate := s.resolveMoveWords(cmd)
		if rate > 0 {
			s.setMoveRate(rate)
		}
		center := s.coordToPrimitive(coord.Position{
			X: cmd.FloatDefault('I', 0),
			Y: cmd.FloatDefault('J', 0),
			Z: cmd.FloatDefault('K', 0),
		}).XYZ()
		if !cmd.Has('K') {
			center.Z = s.destMm.Z
		}
		if err := s.queueArc(dest, center, cmd.Opcode() == "G2"); err != nil {
			ce, _ := err.(*gcode.CommandError)
			reply(gcode.ErrorResponse(ce))
			return
		}
		reply(gcode.Ok)

	case "G20": // units are inches
		s.unitMode = UnitInch
		reply(gcode.Ok)

	case "G21": // units are millimeters
		s.unitMode = UnitMM
		reply(gcode.Ok)

	case "G28": // home endstops
		if !s.readyForMotion() {
			return
		}
		// Reply first: homing blocks command handling until done.
		reply(gcode.Ok)
		s.homeEndstops()

	case "G90": // absolute positioning (also resets extruder mode)
		s.positionMode = PosAbsolute
		s.extruderPosMode = PosAbsolute
		reply(gcode.Ok)

	case "G91": // relative positioning
		s.positionMode = PosRelative
		s.extruderPosMode = PosRelative
		reply(gcode.Ok)

	case "G92": // set host zero offset
		s.setHostZero(cmd)
		reply(gcode.Ok)

	case "M0": // drain moves, then exit cleanly
		stateLog.Info("M0 received: finishing moves, then exiting")
		s.doShutdown = true
		reply(gcode.Ok)

	case "M17": // lock all steppers
		iodrv.LockAllAxes(s.drivers, driverCallback{s})
		reply(gcode.Ok)

	case "M18", "M84": // release all steppers
		iodrv.UnlockAllAxes(s.drivers, driverCallback{s})
		s.isHomed = false
		reply(gcode.Ok)

	case "M21", "M22": // SD init / release: nothing to do
		reply(gcode.Ok)

	case "M32": // run a gcode file as a subprogram
		path, err := s.fs.GcodePath(cmd.StringArg())
		if err != nil {
			reply(gcode.ErrorResponse(gcode.WrapError(err, gcode.KindFilesystem, cmd.StringArg())))
			return
		}
		ch, err := gcode.NewFileChannel(path)
		if err != nil {
			ce, _ := err.(*gcode.CommandError)
			reply(gcode.ErrorResponse(ce))
			return
		}
		stateLog.Info("running gcode file %s", path)
		reply(gcode.Ok)
		s.channels = append(s.channels, ch)

	case "M82": // extruder absolute mode
		s.extruderPosMode = PosAbsolute
		reply(gcode.Ok)

	case "M83": // extruder relative mode
		s.extruderPosMode = PosRelative
		reply(gcode.Ok)

	case "M99": // return from subprogram
		reply(gcode.Ok)
		if len(s.channels) <= 1 {
			stateLog.Warn("M99 outside a subprogram; exiting")
			s.doShutdown = true
			return
		}
		top := s.channels[len(s.channels)-1]
		top.Close()
		s.channels = s.channels[:len(s.channels)-1]

	case "M104": // set hotend temperature
		if v, ok := cmd.Float('S'); ok {
			iodrv.SetHotendTemp(s.drivers, v)
		}
		reply(gcode.Ok)

	case "M105": // report temperatures
		reply(gcode.OkWith(
			gcode.TempField("T", iodrv.HotendTemp(s.drivers)),
			gcode.TempField("B", iodrv.BedTemp(s.drivers)),
		))

	case "M106": // fan on at S duty
		duty := cmd.FloatDefault('S', 1.0)
		if duty > 1 {
			// Hosts that think in 8-bit PWM send 0-255.
			duty /= 256
		}
		s.setFanRate(duty)
		reply(gcode.Ok)

	case "M107": // fan off
		s.setFanRate(0)
		reply(gcode.Ok)

	case "M109": // set hotend temperature and wait
		if v, ok := cmd.Float('S'); ok {
			iodrv.SetHotendTemp(s.drivers, v)
		}
		s.isWaitingForHotend = true
		reply(gcode.Ok)

	case "M110": // set line number: nothing to track
		reply(gcode.Ok)

	case "M111": // set debug level bitfield
		log.SetLevelBits(int(cmd.FloatDefault('S', 0)))
		reply(gcode.Ok)

	case "M112": // emergency stop
		reply(gcode.Ok)
		s.exit(1)

	case "M115": // firmware info
		reply(gcode.OkWith(
			gcode.Field{Key: "FIRMWARE_NAME", Value: "deltapi"},
			gcode.Field{Key: "FIRMWARE_VERSION", Value: Version},
		))

	case "M116": // wait for the hotend to reach its target
		s.isWaitingForHotend = true
		reply(gcode.Ok)

	case "M117": // display host message
		stateLog.Info("host message: %s", cmd.StringArg())
		reply(gcode.Ok)

	case "M140": // set bed temperature
		if v, ok := cmd.Float('S'); ok {
			iodrv.SetBedTemp(s.drivers, v)
		}
		reply(gcode.Ok)

	case "T": // select tool: single-tool machine
		reply(gcode.Ok)

	default:
		err := gcode.NewError(gcode.KindUnrecognizedOpcode, cmd.Opcode(), "no handler")
		stateLog.Warn("%v", err)
		reply(gcode.ErrorResponse(err))
	}
}

// readyForMotion gates motion commands: planner busy, hotend wait
// pending, or homing in progress all defer the command unconsumed.
func (s *State) readyForMotion() bool {
	return s.planner.ReadyForNextMove() && s.hotendReady() && !s.isHoming
}

// autoHome homes before the first motion command when the machine
// requires a reference.
func (s *State) autoHome() {
	if !s.isHomed && s.homeBeforeFirstMove {
		s.homeEndstops()
	}
}

// resolveMoveWords folds a motion command's X/Y/Z/E/F words over the
// current destination: absent axes retain their previous values.
func (s *State) resolveMoveWords(cmd gcode.Command) (coord.Position, float64) {
	raw := coord.Position{
		X: cmd.FloatDefault('X', 0),
		Y: cmd.FloatDefault('Y', 0),
		Z: cmd.FloatDefault('Z', 0),
		E: cmd.FloatDefault('E', 0),
	}
	prim := s.coordToPrimitive(raw)

	dest := s.destMm
	if cmd.Has('X') {
		dest.X = prim.X
	}
	if cmd.Has('Y') {
		dest.Y = prim.Y
	}
	if cmd.Has('Z') {
		dest.Z = prim.Z
	}
	if cmd.Has('E') {
		dest.E = prim.E
	}

	rate := 0.0
	if f, ok := cmd.Float('F'); ok {
		rate = s.feedToPrimitive(f)
	}
	return dest, rate
}

// setHostZero implements G92: choose the offset so the current
// destination reads as the given values. Without parameters the whole
// current position becomes zero.
func (s *State) setHostZero(cmd gcode.Command) {
	if !cmd.HasAny('X', 'Y', 'Z', 'E') {
		s.hostZero = s.destMm
		return
	}
	mm := s.coordToMm(coord.Position{
		X: cmd.FloatDefault('X', 0),
		Y: cmd.FloatDefault('Y', 0),
		Z: cmd.FloatDefault('Z', 0),
		E: cmd.FloatDefault('E', 0),
	})
	curZero := s.destMm.Sub(s.hostZero)
	want := coord.Position{
		X: curZero.X, Y: curZero.Y, Z: curZero.Z, E: curZero.E,
	}
	if cmd.Has('X') {
		want.X = mm.X
	}
	if cmd.Has('Y') {
		want.Y = mm.Y
	}
	if cmd.Has('Z') {
		want.Z = mm.Z
	}
	if cmd.Has('E') {
		want.E = mm.E
	}
	s.hostZero = s.destMm.Sub(want)
}
