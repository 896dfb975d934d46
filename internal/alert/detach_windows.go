//go:build windows

package alert

import "os/exec"

func detachCommand(_ *exec.Cmd) {}
