package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/everping/everping/internal/logger"
)

const (
	// DefaultTermGraceSec is how long a process group gets between SIGTERM
	// and SIGKILL.
	DefaultTermGraceSec = 5

	// Fallback exit codes when the child's own status is unknown, matching
	// the conventional timeout(1) codes.
	ExitCodeTerm = 124
	ExitCodeKill = 137
)

// Result is the outcome of one supervised child process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Options controls the supervision of a single child process.
type Options struct {
	TimeoutSec   int
	TermGraceSec int // defaults to DefaultTermGraceSec
}

func (o Options) termGrace() time.Duration {
	grace := o.TermGraceSec
	if grace <= 0 {
		grace = DefaultTermGraceSec
	}
	return time.Duration(grace) * time.Second
}

// RunShell executes a shell command string through the POSIX shell in a new
// process group, enforcing the timeout contract.
func RunShell(ctx context.Context, command string, opts Options) (*Result, error) {
	return supervise(ctx, shellCommand(command), opts)
}

// RunArgv executes an argv vector directly, no shell involved.
func RunArgv(ctx context.Context, argv []string, opts Options) (*Result, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty argv")
	}
	cmd := exec.Command(argv[0], argv[1:]...) // nolint: gosec
	return supervise(ctx, cmd, opts)
}

// supervise starts the child in its own process group and waits for it.
// On timeout the whole group receives SIGTERM, then SIGKILL after the grace
// period. Captured output is returned as valid UTF-8.
func supervise(ctx context.Context, cmd *exec.Cmd, opts Options) (*Result, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setupCommand(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timeout := time.Duration(opts.TimeoutSec) * time.Second
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case waitErr := <-waitCh:
		return collect(cmd, &stdout, &stderr, waitErr, false, 0), nil

	case <-timer.C:
	}

	// Timed out: signal the whole process group and give it a grace period.
	if err := killProcessGroup(cmd, syscall.SIGTERM); err != nil {
		logger.Warn(ctx, "failed to signal process group", "sig", "TERM", "err", err)
	}

	grace := time.NewTimer(opts.termGrace())
	defer grace.Stop()

	select {
	case waitErr := <-waitCh:
		return collect(cmd, &stdout, &stderr, waitErr, true, ExitCodeTerm), nil

	case <-grace.C:
	}

	if err := killProcessGroup(cmd, syscall.SIGKILL); err != nil {
		logger.Warn(ctx, "failed to signal process group", "sig", "KILL", "err", err)
	}
	waitErr := <-waitCh
	return collect(cmd, &stdout, &stderr, waitErr, true, ExitCodeKill), nil
}

func collect(cmd *exec.Cmd, stdout, stderr *bytes.Buffer, waitErr error, timedOut bool, fallback int) *Result {
	res := &Result{
		Stdout:   strings.ToValidUTF8(stdout.String(), "�"),
		Stderr:   strings.ToValidUTF8(stderr.String(), "�"),
		TimedOut: timedOut,
	}
	res.ExitCode = exitCode(cmd, waitErr, timedOut, fallback)
	return res
}

// exitCode reflects the child's actual status when known. A child killed by
// the timeout signals reports the conventional 124 (TERM) or 137 (KILL).
func exitCode(cmd *exec.Cmd, waitErr error, timedOut bool, fallback int) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		if timedOut {
			return fallback
		}
		return ExitCodeKill
	}
	code := cmd.ProcessState.ExitCode()
	if code >= 0 {
		return code
	}
	// Killed by a signal.
	if timedOut {
		return fallback
	}
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return ExitCodeKill
}
