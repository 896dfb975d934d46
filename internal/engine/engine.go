// Package engine owns the per-run lifecycle: claim, reentrancy mutex,
// execution, classification, log capture, metrics, cleanup and alerts.
// Every error path ends in an explicit terminal state on the run row; a
// single outer recovery turns anything unexpected into the internal-error
// path rather than unwinding.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/everping/everping/internal/alert"
	"github.com/everping/everping/internal/executor"
	"github.com/everping/everping/internal/jobs"
	"github.com/everping/everping/internal/logger"
	"github.com/everping/everping/internal/metricsio"
	"github.com/everping/everping/internal/models"
	"github.com/everping/everping/internal/outparse"
	"github.com/everping/everping/internal/runlog"
	"github.com/everping/everping/internal/store"
)

// Engine executes claimed runs.
type Engine struct {
	store      *store.Store
	catalogue  *jobs.Registry
	alerts     *alert.Engine
	runLogs    *runlog.Writer
	metrics    *metricsio.Writer
	timeoutSec int
	zombieAge  time.Duration
}

// New creates an execution engine.
func New(st *store.Store, catalogue *jobs.Registry, alerts *alert.Engine,
	runLogs *runlog.Writer, metrics *metricsio.Writer, defaultTimeoutSec, zombieSec int) *Engine {
	return &Engine{
		store:      st,
		catalogue:  catalogue,
		alerts:     alerts,
		runLogs:    runLogs,
		metrics:    metrics,
		timeoutSec: defaultTimeoutSec,
		zombieAge:  time.Duration(zombieSec) * time.Second,
	}
}

// ExecuteRun drives one run from PENDING to a terminal state. It is safe to
// call concurrently for distinct runs; for the same run the claim ensures
// only one caller proceeds.
func (e *Engine) ExecuteRun(ctx context.Context, runID int64) {
	claimed, err := e.store.ClaimRun(ctx, runID)
	if err != nil {
		logger.Error(ctx, "failed to claim run", "run", runID, "err", err)
		return
	}
	if !claimed {
		// Another worker or an admin mutation took it.
		return
	}

	// Opportunistic recovery of RUNNING rows left by a prior crash.
	if n, err := e.store.SweepZombieRuns(ctx, e.zombieAge); err != nil {
		logger.Error(ctx, "zombie sweep failed", "err", err)
	} else if n > 0 {
		logger.Warn(ctx, "zombie runs auto-failed", "count", n)
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		// The sweep may have terminated this very run.
		logger.Error(ctx, "failed to reload claimed run", "run", runID, "err", err)
		return
	}
	if run.Status != models.StatusRunning {
		return
	}

	task, err := e.store.GetTask(ctx, run.TaskID)
	if err != nil || !task.Enabled {
		if err != nil && !errors.Is(err, models.ErrTaskNotFound) {
			logger.Error(ctx, "failed to load task for run", "run", runID, "err", err)
		}
		e.finish(ctx, &models.Run{ID: run.ID, Status: models.StatusSkipped})
		return
	}

	if running, err := e.store.HasOtherRunning(ctx, task.ID, run.ID); err != nil {
		e.failInternal(ctx, run, task, err)
		return
	} else if running {
		e.finish(ctx, &models.Run{
			ID:           run.ID,
			Status:       models.StatusFailed,
			ExitCode:     models.ExitCodeReentry,
			HasExitCode:  true,
			ErrorMessage: "Task is already RUNNING (non-reentrant).",
		})
		e.alerts.Raise(ctx, task, models.AlertKindReentry, alert.Message(task.Name, "reentry blocked"))
		return
	}

	if err := e.executeGuarded(ctx, run, task, nil); err != nil {
		e.failInternal(ctx, run, task, err)
	}
}

// executeGuarded runs the execute step sequence with a panic barrier so any
// unexpected condition lands in the internal-error path.
func (e *Engine) executeGuarded(ctx context.Context, run *models.Run, task *models.Task, args []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.execute(ctx, run, task, args)
}

func (e *Engine) execute(ctx context.Context, run *models.Run, task *models.Task, args []string) error {
	res, err := e.launch(ctx, run, task, args)
	if err != nil {
		return err
	}
	if res == nil {
		// Terminal state already written (missing job).
		return nil
	}

	status := classify(res)

	// Clean monitor successes leave no trace in the daily logs.
	skipLogs := task.Type == models.TaskTypeMonitor && status == models.StatusSuccess
	var stdoutPath, stderrPath string
	if !skipLogs {
		stdoutPath, stderrPath, err = e.runLogs.Append(ctx, task.Name, run.ID, res.Stdout, res.Stderr)
		if err != nil {
			logger.Error(ctx, "failed to write run logs", "run", run.ID, "err", err)
		}
	}

	if err := e.finish(ctx, &models.Run{
		ID:          run.ID,
		Status:      status,
		ExitCode:    res.ExitCode,
		HasExitCode: true,
		StdoutPath:  stdoutPath,
		StderrPath:  stderrPath,
	}); err != nil {
		return err
	}

	if task.Type == models.TaskTypeMonitor {
		if pairs := outparse.Parse(res.Stdout); len(pairs) > 0 {
			if err := e.metrics.Append(ctx, task.ID, task.Name, pairs); err != nil {
				logger.Error(ctx, "failed to write metrics", "task", task.Name, "err", err)
			}
		}
		if status == models.StatusSuccess {
			if err := e.store.DeleteRun(ctx, run.ID); err != nil {
				logger.Error(ctx, "failed to delete monitor run", "run", run.ID, "err", err)
			}
			return nil
		}
	}

	if status == models.StatusFailed || status == models.StatusTimeout {
		e.alerts.Raise(ctx, task, models.AlertKindExecFailed,
			alert.Message(task.Name, "status=%s code=%d", status, res.ExitCode))
	}
	return nil
}

// launch resolves the task's command and supervises the child. A nil
// result with nil error means a terminal state was already recorded.
func (e *Engine) launch(ctx context.Context, run *models.Run, task *models.Task, args []string) (*executor.Result, error) {
	opts := executor.Options{TimeoutSec: e.timeoutSec}

	if task.JobID != "" {
		job := e.catalogue.Get(task.JobID)
		if job == nil {
			msg := fmt.Sprintf("Job not found: %s", task.JobID)
			if err := e.finish(ctx, &models.Run{
				ID:           run.ID,
				Status:       models.StatusFailed,
				ExitCode:     models.ExitCodeJobMissing,
				HasExitCode:  true,
				ErrorMessage: msg,
			}); err != nil {
				return nil, err
			}
			e.alerts.Raise(ctx, task, models.AlertKindJobMissing, alert.Message(task.Name, "job not found: %s", task.JobID))
			return nil, nil
		}
		argv := make([]string, 0, len(job.Cmd)+len(args))
		for _, token := range job.Cmd {
			if token == "[task_name]" || token == "{task_name}" {
				argv = append(argv, task.Name)
				continue
			}
			argv = append(argv, token)
		}
		argv = append(argv, args...)
		return executor.RunArgv(ctx, argv, opts)
	}

	command := strings.TrimSpace(task.CommandTemplate)
	if len(args) > 0 {
		command += " " + shellquote.Join(args...)
	}
	return executor.RunShell(ctx, command, opts)
}

func classify(res *executor.Result) models.Status {
	switch {
	case res.TimedOut:
		return models.StatusTimeout
	case res.ExitCode == 0:
		return models.StatusSuccess
	default:
		return models.StatusFailed
	}
}

func (e *Engine) finish(ctx context.Context, run *models.Run) error {
	if err := e.store.FinishRun(ctx, run); err != nil {
		logger.Error(ctx, "failed to persist terminal run state", "run", run.ID, "status", run.Status, "err", err)
		return err
	}
	return nil
}

// failInternal is the catch-all terminal path for unexpected failures.
func (e *Engine) failInternal(ctx context.Context, run *models.Run, task *models.Task, cause error) {
	logger.Error(ctx, "run failed with internal error", "run", run.ID, "err", cause)
	_ = e.finish(ctx, &models.Run{
		ID:           run.ID,
		Status:       models.StatusFailed,
		ExitCode:     models.ExitCodeInternalError,
		HasExitCode:  true,
		ErrorMessage: fmt.Sprintf("Internal error: %v", cause),
	})
	e.alerts.Raise(ctx, task, models.AlertKindInternalError, alert.Message(task.Name, "internal error: %v", cause))
}
