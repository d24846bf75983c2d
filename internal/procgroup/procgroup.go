// SPDX-License-Identifier: MIT

// Package procgroup starts external commands in their own process group so
// that termination reaches the whole process tree, not just the direct child.
package procgroup

import (
	"os/exec"
	"syscall"
)

// Set configures the command to start in a new process group.
// Mandatory for Signal to act as a group reaper.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Signal delivers sig to the entire process group of cmd. A process that has
// already exited is not an error.
func Signal(cmd *exec.Cmd, sig syscall.Signal) error {
	return signal(cmd, sig)
}
