// Package rtsched pins the encode loop's OS thread to the recording
// CPU and raises it to SCHED_FIFO at maximum priority. Both steps are
// mandatory before the hot loop starts; jitter on this thread shows
// up directly as capture backpressure.
//
// Callers must hold runtime.LockOSThread() before using this package:
// the affinity and scheduling calls bind to the calling thread
// (pid 0), and Go will otherwise migrate the goroutine.
package rtsched

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

type schedParam struct {
	priority int32
}

// PinThread restricts the calling thread to the given CPU core.
func PinThread(core int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("rtsched: pin to core %d: %w", core, err)
	}
	return nil
}

// SetFIFOMaxPriority switches the calling thread to SCHED_FIFO at the
// highest priority the kernel supports. Requires CAP_SYS_NICE.
func SetFIFOMaxPriority() error {
	max, _, errno := unix.Syscall(unix.SYS_SCHED_GET_PRIORITY_MAX, uintptr(unix.SCHED_FIFO), 0, 0)
	if errno != 0 {
		return fmt.Errorf("rtsched: query SCHED_FIFO priority range: %w", errno)
	}

	param := schedParam{priority: int32(max)}
	_, _, errno = unix.Syscall(
		unix.SYS_SCHED_SETSCHEDULER,
		0, // calling thread
		uintptr(unix.SCHED_FIFO),
		uintptr(unsafe.Pointer(&param)),
	)
	if errno != 0 {
		return fmt.Errorf("rtsched: set SCHED_FIFO priority %d: %w", param.priority, errno)
	}
	return nil
}
