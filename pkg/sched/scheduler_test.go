package sched

import (
	"errors"
	"testing"
	"time"
)

// drainIdle exits the loop as soon as it is first called.
type drainIdle struct {
	s     *Scheduler
	calls int
}

func (d *drainIdle) OnIdleCPU(interval IdleInterval) bool {
	d.calls++
	d.s.ExitEventLoop()
	return false
}

func TestQueueOrdering(t *testing.T) {
	backend := NewSimBackend(16)
	s := New(backend)

	// Queue out of order, with a pair of equal timestamps.
	s.Queue(StepEvent(0.003, 1, true))
	s.Queue(StepEvent(0.001, 2, true))
	s.Queue(StepEvent(0.002, 3, true))
	s.Queue(StepEvent(0.002, 4, false))

	if err := s.EventLoop(&drainIdle{s: s}); err != nil {
		t.Fatalf("EventLoop: %v", err)
	}

	pulses := backend.Pulses()
	if len(pulses) != 4 {
		t.Fatalf("got %d pulses, want 4", len(pulses))
	}
	wantPins := []Pin{2, 3, 4, 1}
	for i, p := range pulses {
		if p.Event.Pin != wantPins[i] {
			t.Errorf("pulse %d on pin %d, want %d", i, p.Event.Pin, wantPins[i])
		}
	}
	for i := 1; i < len(pulses); i++ {
		if pulses[i].Event.Time < pulses[i-1].Event.Time {
			t.Errorf("pulse %d emitted out of time order", i)
		}
	}
}

func TestNullEventsDiscarded(t *testing.T) {
	s := New(NewSimBackend(16))
	s.Queue(NullEvent())
	if s.PendingEvents() != 0 {
		t.Error("null event was queued")
	}
}

func TestHardwareSubmissionFailure(t *testing.T) {
	backend := NewSimBackend(16)
	backend.FailNext = errors.New("dma ring full")
	s := New(backend)
	s.Queue(StepEvent(0, 1, true))

	err := s.EventLoop(&drainIdle{s: s})
	if err == nil {
		t.Fatal("EventLoop should fail on backend submission error")
	}
}

func TestSchedTimeNeverInPast(t *testing.T) {
	s := New(NewSimBackend(16))
	got := s.SchedTime(-5.0)
	if got < 0 {
		t.Errorf("SchedTime returned past time %f", got)
	}
}

func TestExitWaitsForDrain(t *testing.T) {
	backend := NewSimBackend(16)
	s := New(backend)
	// An event slightly in the future: exit must not fire before it is
	// flushed out.
	s.Queue(StepEvent(s.Now()+0.02, 7, true))

	done := make(chan error, 1)
	go func() {
		done <- s.EventLoop(&drainIdle{s: s})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("EventLoop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("EventLoop did not exit")
	}
	if len(backend.Pulses()) != 1 {
		t.Errorf("pending event not flushed before exit: %d pulses", len(backend.Pulses()))
	}
}

func TestIdleIntervals(t *testing.T) {
	s := New(NewSimBackend(16))

	var shorts, wides int
	idle := idleFunc(func(interval IdleInterval) bool {
		switch interval {
		case IntervalShort:
			shorts++
		case IntervalWide:
			wides++
		}
		if shorts > 250 {
			s.ExitEventLoop()
		}
		return false
	})
	s.SetMaxSleep(time.Millisecond)
	if err := s.EventLoop(idle); err != nil {
		t.Fatalf("EventLoop: %v", err)
	}
	if wides == 0 {
		t.Error("wide idle callback never fired")
	}
	if wides > shorts {
		t.Error("wide idle callback should be rarer than short")
	}
}

type idleFunc func(IdleInterval) bool

func (f idleFunc) OnIdleCPU(interval IdleInterval) bool { return f(interval) }
