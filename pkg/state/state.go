// Host state and execution loop
//
// State handles as much machine-mutual functionality as possible:
// mapping G-codes to specific actions, tracking unit mode and axis
// position, and interfacing with the scheduler. It owns the G-code
// channel stack, the motion planner and the I/O drivers; the
// scheduler's event loop drives it through the idle-CPU callback.
//
// Copyright (C) 2026  Deltapi Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package state

import (
	"os"
	"time"

	"deltapi/pkg/coord"
	"deltapi/pkg/gcode"
	"deltapi/pkg/iodrv"
	"deltapi/pkg/log"
	"deltapi/pkg/motion"
	"deltapi/pkg/sched"
)

var stateLog = log.New("state")

// PositionMode says whether host coordinates are absolute or relative
// to the last queued destination.
type PositionMode int

const (
	PosAbsolute PositionMode = iota
	PosRelative
)

// LengthUnit says whether host coordinates are millimeters or inches.
type LengthUnit int

const (
	UnitMM LengthUnit = iota
	UnitInch
)

const mmPerInch = 25.4

// Config wires a State together.
type Config struct {
	Map       coord.Map
	Planner   *motion.Planner
	Scheduler *sched.Scheduler
	Drivers   []iodrv.Driver
	FS        FileSystem

	// Root is the host-facing command channel. PersistentRoot keeps it
	// polled while an M32 subprogram runs, so emergency stop and
	// temperature queries still work mid-print.
	Root           *gcode.Channel
	PersistentRoot bool

	DefaultMoveRate float64 // mm/s
	MaxMoveRate     float64 // mm/s
	MaxExtrudeRate  float64 // mm/s
	MaxRetractRate  float64 // mm/s

	// HomeBeforeFirstMove auto-runs G28 before the first motion
	// command on machines that cannot move safely unhomed.
	HomeBeforeFirstMove bool

	// Exit replaces os.Exit in tests. M112 calls it.
	Exit func(code int)
}

// State interprets G-code commands, maintains host-facing modes, and
// drives the motion planner and I/O drivers.
type State struct {
	coordMap  coord.Map
	planner   *motion.Planner
	scheduler *sched.Scheduler
	drivers   []iodrv.Driver
	fs        FileSystem

	positionMode    PositionMode
	extruderPosMode PositionMode
	unitMode        LengthUnit
	destMm          coord.Position
	hostZero        coord.Position
	moveRate        float64

	maxMoveRate    float64
	maxExtrudeRate float64
	maxRetractRate float64

	doShutdown          bool
	doExitLoop          bool
	doBufferMoves       bool
	isHoming            bool
	isHomed             bool
	isWaitingForHotend  bool
	homeBeforeFirstMove bool

	lastMotionPlannedTime float64

	// M32 subprograms stack on top of the root channel; only the top
	// is polled, unless the root is persistent.
	channels       []*gcode.Channel
	persistentRoot bool

	exit func(code int)
}

// New builds a State from its configuration.
func New(cfg Config) *State {
	if cfg.DefaultMoveRate <= 0 {
		cfg.DefaultMoveRate = 30
	}
	if cfg.MaxMoveRate <= 0 {
		cfg.MaxMoveRate = 150
	}
	if cfg.MaxExtrudeRate <= 0 {
		cfg.MaxExtrudeRate = 10
	}
	if cfg.MaxRetractRate <= 0 {
		cfg.MaxRetractRate = cfg.MaxExtrudeRate
	}
	if cfg.Exit == nil {
		cfg.Exit = os.Exit
	}
	s := &State{
		coordMap:            cfg.Map,
		planner:             cfg.Planner,
		scheduler:           cfg.Scheduler,
		drivers:             cfg.Drivers,
		fs:                  cfg.FS,
		maxMoveRate:         cfg.MaxMoveRate,
		maxExtrudeRate:      cfg.MaxExtrudeRate,
		maxRetractRate:      cfg.MaxRetractRate,
		homeBeforeFirstMove: cfg.HomeBeforeFirstMove,
		doBufferMoves:       true,
		persistentRoot:      cfg.PersistentRoot,
		exit:                cfg.Exit,
	}
	s.setMoveRate(cfg.DefaultMoveRate)
	if cfg.Root != nil {
		s.channels = append(s.channels, cfg.Root)
	}
	return s
}

// Run services the channels and executes commands until shutdown.
// Returns nil on a clean M0 exit.
func (s *State) Run() error {
	s.scheduler.InitSchedThread()
	return s.scheduler.EventLoop(s)
}

// ShutdownRequested reports whether M0 asked for a clean process exit.
func (s *State) ShutdownRequested() bool {
	return s.doShutdown
}

// DestMm returns the last queued destination in primitive coordinates.
func (s *State) DestMm() coord.Position {
	return s.destMm
}

// ChannelDepth returns the size of the G-code source stack.
func (s *State) ChannelDepth() int {
	return len(s.channels)
}

// driverCallback grants drivers scheduler access during idle polls.
type driverCallback struct {
	s *State
}

func (cb driverCallback) Now() float64 {
	return cb.s.scheduler.Now()
}

func (cb driverCallback) SchedPWM(pin sched.Pin, duty, maxPeriod float64) {
	if err := cb.s.scheduler.QueuePWM(pin, duty, maxPeriod); err != nil {
		stateLog.Error("pwm submission failed on pin %d: %v", pin, err)
	}
}

// OnIdleCPU implements sched.IdleHandler. It interleaves I/O-driver
// events with motion events, enforces the homing discipline, polls the
// command channels on wide ticks, and services every driver.
func (s *State) OnIdleCPU(interval sched.IdleInterval) bool {
	motionNeedsCPU := false
	if s.scheduler.IsRoomInBuffer() {
		ioEvt, ioIdx := iodrv.PeekEarliestEvent(s.drivers)
		motionEvt := s.planner.PeekNextEvent()

		serviceIO := !ioEvt.IsNull() && (motionEvt.IsNull() || ioEvt.Time <= motionEvt.Time)
		if serviceIO {
			s.scheduler.Queue(ioEvt)
			s.drivers[ioIdx].ConsumeNextEvent()
		} else if s.doBufferMoves || s.lastMotionPlannedTime <= s.scheduler.Now() {
			// With buffering off (homing), the next step is withheld
			// until the previous one has been observed complete, so
			// the endstop is sampled between steps.
			if !motionEvt.IsNull() {
				s.planner.ConsumeNextEvent()
				s.scheduler.Queue(motionEvt)
				s.lastMotionPlannedTime = motionEvt.Time
				motionNeedsCPU = s.scheduler.IsRoomInBuffer()
			}
		}

		if s.planner.PeekNextEvent().IsNull() {
			// The active move has fully drained. Honor any deferred
			// exit request before tending channels again; the homing
			// routine must not be interrupted by new commands.
			if (s.doShutdown || s.doExitLoop) && !motionNeedsCPU {
				s.doExitLoop = false
				s.scheduler.ExitEventLoop()
				return false
			}
		}
	}

	if interval == sched.IntervalWide {
		s.tendChannels()
		s.checkEndstops()
	}

	driversNeedCPU := false
	cb := driverCallback{s}
	for _, d := range s.drivers {
		if d.OnIdleCPU(cb) {
			driversNeedCPU = true
		}
	}
	return motionNeedsCPU || driversNeedCPU
}

// tendChannels polls the active command sources: always the top of the
// stack, plus the root when it is persistent, and pops finished files.
func (s *State) tendChannels() {
	if len(s.channels) == 0 {
		return
	}
	if s.persistentRoot && len(s.channels) > 1 {
		s.tendChannel(s.channels[0])
	}
	if len(s.channels) > 0 {
		// Tending the same channel twice is harmless.
		s.tendChannel(s.channels[len(s.channels)-1])
		for len(s.channels) > 0 {
			top := s.channels[len(s.channels)-1]
			if !top.IsAtEOF() {
				break
			}
			stateLog.Info("gcode file %s finished", top.Name())
			top.Close()
			s.channels = s.channels[:len(s.channels)-1]
		}
		if len(s.channels) == 0 {
			// The root itself was a file and it is done.
			stateLog.Info("all command sources finished; shutting down")
			s.doShutdown = true
		}
	}
}

func (s *State) tendChannel(c *gcode.Channel) {
	if !c.Tend() {
		return
	}
	cmd := c.GetCommand()
	s.execute(cmd, func(resp gcode.Response) {
		if cmd.Opcode() != "M105" {
			stateLog.Debug("command: %s -> %s", cmd.Raw(), resp.String())
		}
		c.Reply(resp)
	})
	// If execute never called the reply func the command was deferred:
	// the next Tend re-presents it.
}

// checkEndstops reports endstops firing outside a homing move. Running
// a carriage into a switch mid-print means lost steps or worse.
func (s *State) checkEndstops() {
	if s.isHoming || s.planner.ReadyForNextMove() {
		return
	}
	for _, d := range s.drivers {
		if d.IsEndstop() && d.Triggered() {
			err := gcode.NewError(gcode.KindEndstopTriggered, "", d.Name())
			stateLog.Error("%v", err)
		}
	}
}

// setMoveBuffering toggles between buffered stepping and the
// step-at-a-time discipline used while homing.
func (s *State) setMoveBuffering(buffer bool) {
	s.doBufferMoves = buffer
	if buffer {
		s.scheduler.SetDefaultMaxSleep()
	} else {
		s.scheduler.SetMaxSleep(time.Millisecond)
	}
}

func (s *State) setMoveRate(mmPerSec float64) {
	if mmPerSec > s.maxMoveRate {
		mmPerSec = s.maxMoveRate
	}
	if mmPerSec > 0 {
		s.moveRate = mmPerSec
	}
}

// coordToMm converts host units to millimeters.
func (s *State) coordToMm(p coord.Position) coord.Position {
	if s.unitMode == UnitInch {
		return p.Scale(mmPerInch)
	}
	return p
}

// coordToPrimitive converts a host coordinate to the internal absolute
// millimeter representation. XYZ and E follow their own position modes;
// the host zero offset applies to absolute coordinates only, since a
// relative destination already embeds it.
func (s *State) coordToPrimitive(p coord.Position) coord.Position {
	mm := s.coordToMm(p)
	out := coord.Position{}
	if s.positionMode == PosRelative {
		out.X = s.destMm.X + mm.X
		out.Y = s.destMm.Y + mm.Y
		out.Z = s.destMm.Z + mm.Z
	} else {
		out.X = mm.X + s.hostZero.X
		out.Y = mm.Y + s.hostZero.Y
		out.Z = mm.Z + s.hostZero.Z
	}
	if s.extruderPosMode == PosRelative {
		out.E = s.destMm.E + mm.E
	} else {
		out.E = mm.E + s.hostZero.E
	}
	return out
}

// feedToPrimitive converts an F word (units per minute) to mm/s.
func (s *State) feedToPrimitive(f float64) float64 {
	if s.unitMode == UnitInch {
		f *= mmPerInch
	}
	return f / 60
}

// moveStartTime is when the next move may begin: once the previous one
// is scheduled to complete, but never in the past.
func (s *State) moveStartTime() float64 {
	now := s.scheduler.Now()
	if s.lastMotionPlannedTime > now {
		return s.lastMotionPlannedTime
	}
	return now
}

// queueMovement hands a linear move to the planner. destMm tracks the
// requested destination even when the machine cannot reach it exactly,
// so relative movements do not accumulate drift.
func (s *State) queueMovement(dest coord.Position, rate float64, flags coord.MoveFlags) {
	s.destMm = dest
	s.planner.MoveTo(s.moveStartTime(), dest, rate, -s.maxRetractRate, s.maxExtrudeRate, flags)
}

// queueArc hands an arc move to the planner.
func (s *State) queueArc(dest coord.Position, center coord.Vec3, cw bool) error {
	err := s.planner.ArcTo(s.moveStartTime(), dest, center, s.moveRate, -s.maxRetractRate, s.maxExtrudeRate, cw)
	if err == nil {
		s.destMm = dest
	}
	return err
}

// homeInterface adapts State for coord.Map.ExecuteHomeRoutine. Each
// blocking call re-enters the event loop until the motion drains.
type homeInterface struct {
	s *State
}

func (h homeInterface) ActualCartesianPosition() coord.Position {
	return h.s.planner.ActualCartesianPosition()
}

func (h homeInterface) HomeEndstops(rate float64) error {
	h.s.planner.HomeEndstops(h.s.moveStartTime(), rate)
	return h.s.runUntilMoveDone()
}

func (h homeInterface) MoveTo(pos coord.Position, rate float64, flags coord.MoveFlags) error {
	h.s.queueMovement(pos, rate, flags)
	return h.s.runUntilMoveDone()
}

// runUntilMoveDone runs a nested event loop until the active move
// completes.
func (s *State) runUntilMoveDone() error {
	s.doExitLoop = true
	return s.scheduler.EventLoop(s)
}

// homeEndstops runs the coordinate map's homing routine. Command
// handling is suspended for its duration, and buffering is disabled so
// each step observes the endstops.
func (s *State) homeEndstops() {
	s.isHoming = true
	restoreBuffering := s.doBufferMoves
	s.setMoveBuffering(false)

	if err := s.coordMap.ExecuteHomeRoutine(homeInterface{s}); err != nil {
		stateLog.Error("homing failed: %v", err)
	} else {
		s.isHomed = true
	}

	s.setMoveBuffering(restoreBuffering)
	s.isHoming = false
	// The machine now stands at a known reference.
	s.destMm = s.planner.ActualCartesianPosition()
}

// hotendReady reports whether a pending M109/M116 wait has been
// satisfied. Only the first hotend is sampled.
func (s *State) hotendReady() bool {
	if s.isWaitingForHotend {
		current := iodrv.HotendTemp(s.drivers)
		target := iodrv.HotendTargetTemp(s.drivers)
		s.isWaitingForHotend = current < target
	}
	return !s.isWaitingForHotend
}

// setFanRate applies a duty cycle to every fan.
func (s *State) setFanRate(rate float64) {
	iodrv.SetFanRate(s.drivers, driverCallback{s}, rate)
}
