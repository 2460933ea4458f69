//go:build !windows

package process

import (
	"syscall"
	"time"
)

// SendTerminationSignal sends SIGTERM to the process group on Unix systems.
// The negative PID addresses the whole group, so the flow executor's own
// children terminate with it.
func SendTerminationSignal(pid int, isDead bool, timeout time.Duration) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}
