// Package trigger connects the GPIO kernel driver to the capture
// pipeline: PID registration, the signal dispatcher, and the socket
// watchdog.
package trigger

import (
	"fmt"
	"os"
	"strconv"
)

// ProcGPIOPIDPath is where the kernel driver reads the PID to signal
// on each GPIO edge.
const ProcGPIOPIDPath = "/proc/gpio_interrupt_pid"

// RegisterPID writes the process's PID in ASCII decimal to the
// driver's proc file. Subsequent GPIO edges arrive as SIGUSR1.
func RegisterPID(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("trigger: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		return fmt.Errorf("trigger: write pid to %s: %w", path, err)
	}
	return nil
}
