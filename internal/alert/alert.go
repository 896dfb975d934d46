// Package alert raises rate-limited alerts. Every attempt is recorded in
// the alerts table; delivery through the external push script only happens
// when the (task, kind) pair is outside its suppression window.
package alert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/everping/everping/internal/logger"
	"github.com/everping/everping/internal/models"
	"github.com/everping/everping/internal/store"
)

// Push describes the external notifier invocation.
type Push struct {
	Script string
	Title  string
	Group  string
	Level  string
}

// Engine decides suppression and records alert attempts.
type Engine struct {
	store    *store.Store
	window   time.Duration
	push     Push
	notifier func(ctx context.Context, message string)
}

// New creates an alert engine with the given suppression window.
func New(st *store.Store, suppressSec int, push Push) *Engine {
	e := &Engine{
		store:  st,
		window: time.Duration(suppressSec) * time.Second,
		push:   push,
	}
	e.notifier = e.spawnNotifier
	return e
}

// SetNotifier replaces the delivery function. Used by tests.
func (e *Engine) SetNotifier(fn func(ctx context.Context, message string)) {
	e.notifier = fn
}

// Raise records one alert attempt for (task, kind) and delivers it unless
// suppressed. Returns true when the notifier was invoked. The durable alert
// row is the source of truth; delivery failures are swallowed.
func (e *Engine) Raise(ctx context.Context, task *models.Task, kind, message string) bool {
	now := time.Now()

	suppressed := false
	st, err := e.store.GetAlertState(ctx, task.ID, kind)
	if err != nil {
		logger.Error(ctx, "failed to read alert state", "task", task.Name, "kind", kind, "err", err)
	} else if st != nil && !st.LastSentAt.IsZero() && now.Sub(st.LastSentAt) < e.window {
		suppressed = true
	}

	if err := e.store.TouchAlertState(ctx, task.ID, kind, now); err != nil {
		logger.Error(ctx, "failed to update alert state", "task", task.Name, "kind", kind, "err", err)
	}
	if err := e.store.RecordAlert(ctx, &models.Alert{
		TaskID:     task.ID,
		AlertKind:  kind,
		Message:    message,
		Suppressed: suppressed,
	}); err != nil {
		logger.Error(ctx, "failed to record alert", "task", task.Name, "kind", kind, "err", err)
	}

	if suppressed {
		logger.Debug(ctx, "alert suppressed", "task", task.Name, "kind", kind)
		return false
	}

	e.notifier(ctx, message)
	return true
}

// spawnNotifier starts the push script as a detached child with all stdio
// on the null device. No return value is inspected.
func (e *Engine) spawnNotifier(ctx context.Context, message string) {
	if e.push.Script == "" {
		return
	}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		logger.Warn(ctx, "failed to open null device for notifier", "err", err)
		return
	}
	defer func() { _ = devnull.Close() }()

	cmd := exec.Command(e.push.Script, message, "-t", e.push.Title, "-g", e.push.Group, "-l", e.push.Level) // nolint: gosec
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	detachCommand(cmd)

	if err := cmd.Start(); err != nil {
		logger.Warn(ctx, "failed to spawn notifier", "script", e.push.Script, "err", err)
		return
	}
	if err := cmd.Process.Release(); err != nil {
		logger.Warn(ctx, "failed to release notifier process", "err", err)
	}
}

// Message formats the standard alert text for a task event.
func Message(taskName, format string, v ...any) string {
	return fmt.Sprintf("%s: %s", taskName, fmt.Sprintf(format, v...))
}
