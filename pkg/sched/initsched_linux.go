//go:build linux

package sched

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// InitSchedThread pins the event loop to its OS thread and asks the
// kernel for real-time scheduling. Step timing jitter comes straight
// from preemption, so SCHED_FIFO and locked memory matter on a busy Pi.
// Failures (normal when not root) are logged and ignored.
func (s *Scheduler) InitSchedThread() {
	runtime.LockOSThread()

	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		schedLog.Warn("mlockall failed (not root?): %v", err)
	}

	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: 30,
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		schedLog.Warn("SCHED_FIFO unavailable, falling back to nice -20: %v", err)
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -20); err != nil {
			schedLog.Warn("setpriority failed: %v", err)
		}
	}
}
