// SPDX-License-Identifier: MIT

//go:build windows

package procgroup

import (
	"os/exec"
	"syscall"
)

func set(cmd *exec.Cmd) {
	// Process groups in the unix sense do not exist on Windows.
}

// signal maps SIGKILL to Process.Kill; graceful signals are not reliably
// deliverable on Windows, so anything else is a no-op and the caller's
// kill-after-grace path takes over.
func signal(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return nil
}
