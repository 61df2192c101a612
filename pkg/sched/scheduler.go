// Timed event scheduling
//
// The Scheduler owns the ordered queue of output events feeding the
// hardware backend and runs the single-threaded cooperative event loop.
// Idle CPU between emissions is handed to an IdleHandler (the executor),
// which uses it to plan motion and poll I/O drivers. The loop owns both
// sides and invokes callbacks; neither side holds a reference to the
// other.
//
// Copyright (C) 2026  Deltapi Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package sched

import (
	"container/heap"
	"fmt"
	"time"

	"deltapi/pkg/log"
)

var schedLog = log.New("sched")

const (
	// DefaultMaxSleep bounds how long the loop sleeps with no work.
	DefaultMaxSleep = 40 * time.Millisecond

	// wideInterval is the cadence of IntervalWide idle callbacks.
	wideInterval = 0.1

	// lookahead is how far ahead of the wall clock events are flushed
	// into the hardware buffer.
	lookahead = 0.1

	// queueCap bounds the software queue; IsRoomInBuffer turns false
	// beyond it, which backpressures motion planning.
	queueCap = 512
)

// IdleHandler receives idle CPU from the event loop. Returning true
// requests another callback without sleeping first.
type IdleHandler interface {
	OnIdleCPU(interval IdleInterval) bool
}

type queuedEvent struct {
	evt OutputEvent
	seq uint64 // preserves submission order for equal timestamps
}

type eventQueue []queuedEvent

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].evt.Time != q[j].evt.Time {
		return q[i].evt.Time < q[j].evt.Time
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x interface{}) { *q = append(*q, x.(queuedEvent)) }
func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Scheduler dispatches timed output events to the hardware backend and
// yields idle CPU to pollable drivers. All methods must be called from
// the event-loop goroutine.
type Scheduler struct {
	backend  Backend
	start    time.Time
	queue    eventQueue
	seq      uint64
	maxSleep time.Duration
	exit     bool
	lastWide float64
}

// New creates a scheduler over the given hardware backend.
func New(backend Backend) *Scheduler {
	return &Scheduler{
		backend:  backend,
		start:    time.Now(),
		maxSleep: DefaultMaxSleep,
	}
}

// Now returns the scheduler clock in seconds. Event times are expressed
// on this clock.
func (s *Scheduler) Now() float64 {
	return time.Since(s.start).Seconds()
}

// Queue submits an event for emission. Null events are discarded.
func (s *Scheduler) Queue(evt OutputEvent) {
	if evt.IsNull() {
		return
	}
	s.seq++
	heap.Push(&s.queue, queuedEvent{evt: evt, seq: s.seq})
}

// QueuePWM passes a PWM reconfiguration straight to the backend; duty
// changes take effect as soon as the hardware allows.
func (s *Scheduler) QueuePWM(pin Pin, duty, maxPeriod float64) error {
	return s.backend.QueuePWM(pin, duty, maxPeriod)
}

// SchedTime returns the earliest schedulable time for an event wanted
// at t.
func (s *Scheduler) SchedTime(t float64) float64 {
	now := s.Now()
	if t < now {
		t = now
	}
	return s.backend.SchedTime(t)
}

// IsRoomInBuffer reports whether more events may be queued now.
func (s *Scheduler) IsRoomInBuffer() bool {
	return len(s.queue) < queueCap
}

// PendingEvents returns the number of events not yet flushed to hardware.
func (s *Scheduler) PendingEvents() int {
	return len(s.queue)
}

// SetMaxSleep bounds the loop's sleep. Homing sets this to ~1ms so the
// endstop is sampled between each step.
func (s *Scheduler) SetMaxSleep(d time.Duration) {
	s.maxSleep = d
}

// SetDefaultMaxSleep restores the normal sleep bound.
func (s *Scheduler) SetDefaultMaxSleep() {
	s.maxSleep = DefaultMaxSleep
}

// ExitEventLoop makes the innermost running event loop return once no
// pending motion events remain.
func (s *Scheduler) ExitEventLoop() {
	s.exit = true
}

// flush moves due head events into the hardware buffer.
func (s *Scheduler) flush() error {
	now := s.Now()
	for len(s.queue) > 0 && s.backend.BufferRoom() > 0 && s.queue[0].evt.Time <= now+lookahead {
		qe := heap.Pop(&s.queue).(queuedEvent)
		if err := s.backend.Queue(qe.evt); err != nil {
			return fmt.Errorf("hardware submission failure: %w", err)
		}
	}
	return nil
}

// EventLoop repeatedly flushes due events, hands idle CPU to the
// handler and the backend, and sleeps when nobody wants more. It
// returns when ExitEventLoop has been called and the queue is drained,
// or with an error on hardware submission failure.
func (s *Scheduler) EventLoop(idle IdleHandler) error {
	for {
		if err := s.flush(); err != nil {
			schedLog.Error("%v", err)
			return err
		}

		need := s.backend.OnIdleCPU(IntervalShort)
		if idle != nil && idle.OnIdleCPU(IntervalShort) {
			need = true
		}
		now := s.Now()
		if now-s.lastWide >= wideInterval {
			s.lastWide = now
			if s.backend.OnIdleCPU(IntervalWide) {
				need = true
			}
			if idle != nil && idle.OnIdleCPU(IntervalWide) {
				need = true
			}
		}

		if s.exit && len(s.queue) == 0 {
			// Reset so an enclosing loop (homing runs nested loops)
			// keeps running after the inner one returns.
			s.exit = false
			return nil
		}

		if !need {
			s.sleep()
		}
	}
}

func (s *Scheduler) sleep() {
	d := s.maxSleep
	if len(s.queue) > 0 {
		until := time.Duration((s.queue[0].evt.Time - lookahead - s.Now()) * float64(time.Second))
		if until <= 0 {
			return
		}
		if until < d {
			d = until
		}
	}
	time.Sleep(d)
}
