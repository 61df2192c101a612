//go:build !linux

package sched

import "runtime"

// InitSchedThread pins the event loop to its OS thread. Real-time
// priority is only attempted on Linux.
func (s *Scheduler) InitSchedThread() {
	runtime.LockOSThread()
}
