//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// setProcessGroup gives the agent its own console process group so it
// does not receive the Ctrl+C meant for tunnelctl.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// killProcessTree terminates the agent process.
func killProcessTree(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
