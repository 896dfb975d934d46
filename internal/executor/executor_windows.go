//go:build windows

package executor

import (
	"os/exec"
	"syscall"
)

func setupCommand(_ *exec.Cmd) {
	// No process groups on Windows; termination is best-effort on the
	// immediate child only.
}

func killProcessGroup(cmd *exec.Cmd, _ syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/C", command)
}
