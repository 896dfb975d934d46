//go:build !windows

package alert

import (
	"os/exec"
	"syscall"
)

// detachCommand puts the notifier in its own session so it survives the
// orchestrator and never joins our process group.
func detachCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
