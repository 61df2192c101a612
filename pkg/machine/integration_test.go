package machine

import (
	"bytes"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"deltapi/pkg/gcode"
	"deltapi/pkg/iodrv"
	"deltapi/pkg/sched"
	"deltapi/pkg/state"
)

// TestDeltaPrintRun drives a complete delta machine through the real
// event loop: home, move, shut down. The simulated endstops read
// triggered from the start, so homing converges immediately to the
// home reference.
func TestDeltaPrintRun(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the wall-clock event loop")
	}

	p := DefaultProfile()
	backend := sched.NewSimBackend(256)
	for _, pin := range p.Pins.Endstop {
		backend.SetInput(sched.Pin(pin), true)
	}

	script := "G28\nG1 X5 Y0 Z195 F6000\nM0\n"
	var out bytes.Buffer
	root := gcode.NewChannel("test", strings.NewReader(script), &out, false)

	m, err := Build(p, Options{
		Backend:   backend,
		ReadInput: iodrv.PinReader(backend.ReadInput),
		Root:      root,
		FS:        state.NewDirFS(os.TempDir()),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.State.Run() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("event loop did not exit after M0")
	}

	if !m.State.ShutdownRequested() {
		t.Error("M0 should request shutdown")
	}

	// The move must have landed within a step of the target.
	got := m.Planner.ActualCartesianPosition()
	if math.Abs(got.X-5) > 0.1 || math.Abs(got.Y) > 0.1 || math.Abs(got.Z-195) > 0.1 {
		t.Errorf("final position (%.3f, %.3f, %.3f), want (5, 0, 195)", got.X, got.Y, got.Z)
	}

	// Carriage pulses reached the backend in time order.
	pulses := backend.Pulses()
	if len(pulses) == 0 {
		t.Fatal("no pulses emitted")
	}
	prev := math.Inf(-1)
	for i, pr := range pulses {
		if pr.Event.Time < prev {
			t.Fatalf("pulse %d out of order", i)
		}
		prev = pr.Event.Time
	}

	if !strings.Contains(out.String(), "ok") {
		t.Errorf("no acknowledgements written: %q", out.String())
	}
}
