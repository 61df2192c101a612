package state

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"deltapi/pkg/coord"
	"deltapi/pkg/gcode"
	"deltapi/pkg/iodrv"
	"deltapi/pkg/motion"
	"deltapi/pkg/sched"
)

// rig assembles a small Cartesian test machine around a simulated
// backend. Tests drive the state's idle callback directly instead of
// running the wall-clock event loop.
type rig struct {
	t         *testing.T
	backend   *sched.SimBackend
	scheduler *sched.Scheduler
	planner   *motion.Planner
	state     *State
	hotend    *iodrv.SimSensor
	fan       *iodrv.Fan
	enable    *iodrv.StepperEnable
	out       *bytes.Buffer
	exitCode  *int
	endstopAt []int // reads remaining until each axis endstop triggers
}

func newRig(t *testing.T, script string) *rig {
	t.Helper()
	r := &rig{
		t:         t,
		backend:   sched.NewSimBackend(256),
		out:       &bytes.Buffer{},
		exitCode:  new(int),
		endstopAt: []int{3, 3, 3},
	}
	*r.exitCode = -1

	m := coord.NewCartesianMap(
		[4]float64{0.1, 0.1, 0.1, 0.05},
		coord.Position{},
		coord.Position{X: 200, Y: 200, Z: 180},
		50, nil,
	)
	factory := &motion.CartesianGenerators{
		Map:      m,
		StepPins: [4]sched.Pin{10, 11, 12, 13},
	}
	for i := range factory.Endstops {
		i := i
		factory.Endstops[i] = func() bool {
			if r.endstopAt[i] <= 0 {
				return true
			}
			r.endstopAt[i]--
			return false
		}
	}
	r.planner = motion.NewPlanner(m, factory, nil)
	r.scheduler = sched.New(r.backend)

	r.hotend = iodrv.NewSimSensor(25, 300, 10)
	bed := iodrv.NewSimSensor(25, 100, 30)
	r.fan = iodrv.NewFan("part_fan", 5, 1, 0.01)
	r.enable = iodrv.NewStepperEnable("steppers", []sched.Pin{20, 21, 22})
	drivers := []iodrv.Driver{
		iodrv.NewHeater(iodrv.HeaterConfig{Name: "hotend", Pin: 3, Sensor: r.hotend}),
		iodrv.NewHeater(iodrv.HeaterConfig{Name: "bed", Pin: 4, Sensor: bed, Bed: true}),
		r.fan,
		r.enable,
	}

	root := gcode.NewChannel("test", strings.NewReader(script), r.out, false)
	r.state = New(Config{
		Map:       m,
		Planner:   r.planner,
		Scheduler: r.scheduler,
		Drivers:   drivers,
		FS:        NewDirFS(t.TempDir()),
		Root:      root,
		Exit:      func(code int) { *r.exitCode = code },
	})
	return r
}

// tick runs one wide idle pass.
func (r *rig) tick() {
	r.state.OnIdleCPU(sched.IntervalWide)
}

// settle ticks until the condition holds or the deadline passes.
func (r *rig) settle(cond func() bool) {
	r.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.tick()
		if cond() {
			return
		}
		time.Sleep(500 * time.Microsecond)
	}
	r.t.Fatal("condition not reached before deadline")
}

// drainMoves ticks until the planner goes idle and all queued commands
// are consumed.
func (r *rig) drainMoves() {
	r.settle(func() bool {
		return r.planner.ReadyForNextMove()
	})
}

func okCount(out string) int {
	n := 0
	for _, line := range strings.Split(out, "\n") {
		if line == "ok" || strings.HasPrefix(line, "ok ") {
			n++
		}
	}
	return n
}

func TestLinearMoveScenario(t *testing.T) {
	r := newRig(t, "G21\nG90\nG1 X10 Y0 Z0 F600\n")

	r.settle(func() bool { return okCount(r.out.String()) >= 3 })
	r.drainMoves()

	dest := r.state.DestMm()
	if dest.X != 10 || dest.Y != 0 || dest.Z != 0 || dest.E != 0 {
		t.Errorf("dest = %+v, want (10,0,0,0)", dest)
	}

	// 600 mm/min = 10 mm/s: 100 steps over exactly one second.
	pos := r.planner.AxisPositions()
	if pos[0] != 100 {
		t.Errorf("axis 0 at %d steps, want 100", pos[0])
	}
}

func TestRelativeMoves(t *testing.T) {
	r := newRig(t, "G91\nG1 X5\nG1 X5\n")
	r.settle(func() bool {
		return okCount(r.out.String()) >= 3 && r.planner.ReadyForNextMove()
	})
	if got := r.state.DestMm().X; math.Abs(got-10) > 1e-9 {
		t.Errorf("x = %f after two relative 5mm moves, want 10", got)
	}
}

func TestInchUnits(t *testing.T) {
	r := newRig(t, "G20\nG1 X1\n")
	r.settle(func() bool {
		return okCount(r.out.String()) >= 2 && r.planner.ReadyForNextMove()
	})
	if got := r.state.DestMm().X; math.Abs(got-25.4) > 1e-9 {
		t.Errorf("x = %f, want 25.4", got)
	}
}

func TestHostZeroOffset(t *testing.T) {
	r := newRig(t, "G1 X10\nG92 X0\nG1 X5\n")
	r.settle(func() bool {
		return okCount(r.out.String()) >= 3 && r.planner.ReadyForNextMove()
	})
	// After G92 X0 at x=10, X5 means physical 15.
	if got := r.state.DestMm().X; math.Abs(got-15) > 1e-9 {
		t.Errorf("x = %f, want 15", got)
	}
}

func TestHotendWaitDefersMoves(t *testing.T) {
	r := newRig(t, "M109 S200\nG1 X10\n")

	r.settle(func() bool { return okCount(r.out.String()) >= 1 })

	// The G1 must stay deferred while the hotend is cold.
	for i := 0; i < 20; i++ {
		r.tick()
	}
	if !r.planner.ReadyForNextMove() || r.state.DestMm().X != 0 {
		t.Fatal("G1 executed before the hotend reached temperature")
	}

	r.hotend.Set(201)
	r.settle(func() bool { return r.state.DestMm().X == 10 })
}

func TestM105Report(t *testing.T) {
	r := newRig(t, "M105\n")
	r.hotend.Set(210)
	r.settle(func() bool { return strings.Contains(r.out.String(), "ok T:") })
	if !strings.Contains(r.out.String(), "ok T:210.00 B:25.00") {
		t.Errorf("M105 reply = %q", r.out.String())
	}
}

func TestFanCommands(t *testing.T) {
	r := newRig(t, "M106 S128\nM107\n")
	r.settle(func() bool { return okCount(r.out.String()) >= 2 })
	if got := r.fan.Duty(); got != 0 {
		t.Errorf("fan duty after M107 = %f, want 0", got)
	}

	r2 := newRig(t, "M106 S128\n")
	r2.settle(func() bool { return okCount(r2.out.String()) >= 1 })
	if got := r2.fan.Duty(); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("fan duty after M106 S128 = %f, want 0.5", got)
	}
}

func TestStepperLockUnlock(t *testing.T) {
	r := newRig(t, "M17\nM18\n")
	r.settle(func() bool { return okCount(r.out.String()) >= 2 })
	if r.enable.Locked() {
		t.Error("steppers still locked after M18")
	}
}

func TestEmergencyStop(t *testing.T) {
	r := newRig(t, "M112\n")
	r.settle(func() bool { return *r.exitCode >= 0 })
	if *r.exitCode != 1 {
		t.Errorf("M112 exit code = %d, want 1", *r.exitCode)
	}
}

func TestShutdownAfterMove(t *testing.T) {
	r := newRig(t, "G1 X1\nM0\n")
	r.settle(func() bool { return r.state.ShutdownRequested() })
	r.drainMoves()
	if !r.state.ShutdownRequested() {
		t.Error("shutdown flag lost")
	}
}

func TestUnknownOpcode(t *testing.T) {
	r := newRig(t, "M999\n")
	r.settle(func() bool { return strings.Contains(r.out.String(), "error:") })
	if !strings.Contains(r.out.String(), "error:unrecognized opcode") {
		t.Errorf("reply = %q", r.out.String())
	}
}

func TestFirmwareInfo(t *testing.T) {
	r := newRig(t, "M115\n")
	r.settle(func() bool { return strings.Contains(r.out.String(), "FIRMWARE_NAME:deltapi") })
}

func TestSubprogramStack(t *testing.T) {
	r := newRig(t, "M32 sub.gcode\n")

	// Place the subprogram where the rig's DirFS will find it.
	dir := r.state.fs.(*DirFS).root
	sub := "G21\nG91\nG1 X2\n"
	if err := os.WriteFile(filepath.Join(dir, "sub.gcode"), []byte(sub), 0644); err != nil {
		t.Fatal(err)
	}

	r.settle(func() bool { return r.state.ChannelDepth() == 2 })

	// The file drains, its moves complete, and the channel pops.
	r.settle(func() bool {
		return r.state.ChannelDepth() == 1 && r.planner.ReadyForNextMove()
	})
	if got := r.state.DestMm().X; math.Abs(got-2) > 1e-9 {
		t.Errorf("subprogram move not executed, x = %f", got)
	}
}

func TestSubprogramMissingFile(t *testing.T) {
	r := newRig(t, "M32 nope.gcode\n")
	r.settle(func() bool { return strings.Contains(r.out.String(), "error:filesystem error") })
	if r.state.ChannelDepth() != 1 {
		t.Error("failed M32 must not grow the stack")
	}
}

func TestHomeSetsReference(t *testing.T) {
	r := newRig(t, "G28\n")
	r.settle(func() bool { return r.state.isHomed })

	pos := r.planner.AxisPositions()
	for axis := 0; axis < 3; axis++ {
		if pos[axis] != 0 {
			t.Errorf("axis %d at %d steps after homing, want 0", axis, pos[axis])
		}
	}
	if r.state.isHoming {
		t.Error("homing flag stuck")
	}
}

func TestM99AtRootShutsDown(t *testing.T) {
	r := newRig(t, "M99\n")
	r.settle(func() bool { return r.state.ShutdownRequested() })
}

func TestDeferredCommandRepresented(t *testing.T) {
	// Two moves back to back: the second is deferred until the first
	// drains, then consumed. Both must eventually be acknowledged.
	r := newRig(t, "G1 X3\nG1 X6\n")
	r.settle(func() bool {
		return okCount(r.out.String()) >= 2 && r.planner.ReadyForNextMove()
	})
	if got := r.state.DestMm().X; math.Abs(got-6) > 1e-9 {
		t.Errorf("x = %f, want 6", got)
	}
}
