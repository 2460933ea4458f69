//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes configures Unix-specific process attributes
func setupProcessAttributes(cmd *exec.Cmd) {
	// Create a new process group that can be signalled as a whole, so a
	// SIGTERM to -pid reaches the flow executor together with any worker
	// processes it spawns.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
