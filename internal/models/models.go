package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskType classifies what a task's output means.
type TaskType string

const (
	TaskTypeSchedule TaskType = "schedule"
	TaskTypeMonitor  TaskType = "monitor"
)

// Status is the run state machine. Transitions only move forward:
// PENDING -> RUNNING -> {SUCCESS, FAILED, TIMEOUT, SKIPPED}.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusTimeout Status = "TIMEOUT"
	StatusSkipped Status = "SKIPPED"
)

// IsTerminal reports whether the status ends the run state machine.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout, StatusSkipped:
		return true
	default:
		return false
	}
}

// TriggerKind selects the firing rule of a trigger.
type TriggerKind string

const (
	TriggerKindInterval TriggerKind = "interval"
	TriggerKindCron     TriggerKind = "cron"
	TriggerKindDeadline TriggerKind = "deadline"
	TriggerKindOnce     TriggerKind = "once"
)

// HolidayPolicy gates trigger firings on the Chinese calendar.
type HolidayPolicy string

const (
	HolidayPolicyNone          HolidayPolicy = "NONE"
	HolidayPolicyCNWorkdayOnly HolidayPolicy = "CN_WORKDAY_ONLY"
	HolidayPolicySkipCNHoliday HolidayPolicy = "SKIP_CN_HOLIDAY"
	HolidayPolicySkipCNWorkday HolidayPolicy = "SKIP_CN_WORKDAY"
)

// Alert kinds recorded by the alert engine.
const (
	AlertKindReentry       = "reentry"
	AlertKindJobMissing    = "job_missing"
	AlertKindInternalError = "internal_error"
	AlertKindExecFailed    = "exec_failed"
)

// Exit codes reserved for engine-detected failures.
const (
	ExitCodeJobMissing    = 97
	ExitCodeInternalError = 98
	ExitCodeReentry       = 99
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrTriggerNotFound = errors.New("trigger not found")
	ErrRunNotFound     = errors.New("run not found")
	ErrDuplicateTask   = errors.New("task name already exists")
)

// Task is the immutable identity a run executes on behalf of.
type Task struct {
	ID              int64
	Name            string
	Type            TaskType
	JobID           string
	CommandTemplate string
	TimeoutSec      int
	Enabled         bool
	Remark          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Trigger causes runs of its task to be enqueued.
type Trigger struct {
	ID             int64
	TaskID         int64
	Kind           TriggerKind
	CronExpr       string
	IntervalSec    int
	DeadlineConfig string
	HolidayPolicy  HolidayPolicy
	Enabled        bool
}

// DeadlineConfig is the kind-specific payload of a deadline trigger.
type DeadlineConfig struct {
	DeadlineAt      string `json:"deadline_at"`
	StartBeforeDays int    `json:"start_before_days"`
	IntervalHours   int    `json:"interval_hours"`
}

// ParseDeadlineConfig decodes the JSON payload of a deadline trigger.
// Missing fields take the historical defaults.
func ParseDeadlineConfig(raw string) (DeadlineConfig, error) {
	cfg := DeadlineConfig{StartBeforeDays: 1, IntervalHours: 6}
	if strings.TrimSpace(raw) == "" {
		return cfg, errors.New("empty deadline config")
	}
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return cfg, fmt.Errorf("invalid deadline config: %w", err)
	}
	return cfg, nil
}

// Run is one execution attempt of a task.
type Run struct {
	ID           int64
	TaskID       int64
	TriggerID    int64 // 0 when enqueued manually
	Status       Status
	ScheduledAt  time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	ExitCode     int
	HasExitCode  bool
	StdoutPath   string
	StderrPath   string
	ErrorMessage string
}

// AlertState tracks the last delivery per (task, kind) for suppression.
type AlertState struct {
	ID         int64
	TaskID     int64
	AlertKind  string
	LastSentAt time.Time
}

// Alert is an append-only record of one notification attempt.
type Alert struct {
	ID         int64
	TaskID     int64
	AlertKind  string
	Message    string
	Suppressed bool
	CreatedAt  time.Time
}

// StatusDetail returns a compact, single-line description of a failed run
// for list views.
func (r *Run) StatusDetail(maxLen int) string {
	if r.Status == StatusSuccess {
		return ""
	}
	if r.ErrorMessage != "" {
		text := strings.Join(strings.Fields(r.ErrorMessage), " ")
		if len(text) > maxLen {
			text = strings.TrimSpace(text[:maxLen]) + "..."
		}
		return text
	}
	if r.HasExitCode {
		return fmt.Sprintf("exit_code=%d", r.ExitCode)
	}
	return ""
}
