//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the agent as the leader of a new process group.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessTree sends SIGKILL to the agent's process group.
func killProcessTree(cmd *exec.Cmd) error {
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		// The group may already be gone; fall back to the leader itself.
		return cmd.Process.Kill()
	}
	return nil
}
