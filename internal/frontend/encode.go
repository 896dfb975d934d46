package frontend

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/everping/everping/internal/jobs"
	"github.com/everping/everping/internal/models"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrTaskNotFound),
		errors.Is(err, models.ErrTriggerNotFound),
		errors.Is(err, models.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateTask):
		status = http.StatusConflict
	case errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

var errBadRequest = errors.New("bad request")

type taskJSON struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Type            string    `json:"type"`
	JobID           string    `json:"job_id,omitempty"`
	CommandTemplate string    `json:"command_template,omitempty"`
	TimeoutSec      int       `json:"timeout_sec"`
	Enabled         bool      `json:"enabled"`
	Remark          string    `json:"remark,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toTaskJSON(t *models.Task) taskJSON {
	return taskJSON{
		ID:              t.ID,
		Name:            t.Name,
		Type:            string(t.Type),
		JobID:           t.JobID,
		CommandTemplate: t.CommandTemplate,
		TimeoutSec:      t.TimeoutSec,
		Enabled:         t.Enabled,
		Remark:          t.Remark,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

type triggerJSON struct {
	ID             int64           `json:"id"`
	TaskID         int64           `json:"task_id"`
	Kind           string          `json:"kind"`
	CronExpr       string          `json:"cron_expr,omitempty"`
	IntervalSec    int             `json:"interval_sec,omitempty"`
	DeadlineConfig json.RawMessage `json:"deadline_config,omitempty"`
	HolidayPolicy  string          `json:"holiday_policy"`
	Enabled        bool            `json:"enabled"`
}

func toTriggerJSON(t *models.Trigger) triggerJSON {
	out := triggerJSON{
		ID:            t.ID,
		TaskID:        t.TaskID,
		Kind:          string(t.Kind),
		CronExpr:      t.CronExpr,
		IntervalSec:   t.IntervalSec,
		HolidayPolicy: string(t.HolidayPolicy),
		Enabled:       t.Enabled,
	}
	if t.DeadlineConfig != "" {
		out.DeadlineConfig = json.RawMessage(t.DeadlineConfig)
	}
	return out
}

type runJSON struct {
	ID           int64      `json:"id"`
	TaskID       int64      `json:"task_id"`
	TriggerID    int64      `json:"trigger_id,omitempty"`
	Status       string     `json:"status"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	StdoutPath   string     `json:"stdout_path,omitempty"`
	StderrPath   string     `json:"stderr_path,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StatusDetail string     `json:"status_detail,omitempty"`
}

func toRunJSON(r *models.Run) runJSON {
	out := runJSON{
		ID:           r.ID,
		TaskID:       r.TaskID,
		TriggerID:    r.TriggerID,
		Status:       string(r.Status),
		ScheduledAt:  r.ScheduledAt,
		StdoutPath:   r.StdoutPath,
		StderrPath:   r.StderrPath,
		ErrorMessage: r.ErrorMessage,
		StatusDetail: r.StatusDetail(120),
	}
	if !r.StartedAt.IsZero() {
		ts := r.StartedAt
		out.StartedAt = &ts
	}
	if !r.FinishedAt.IsZero() {
		ts := r.FinishedAt
		out.FinishedAt = &ts
	}
	if r.HasExitCode {
		code := r.ExitCode
		out.ExitCode = &code
	}
	return out
}

type alertJSON struct {
	ID         int64     `json:"id"`
	TaskID     int64     `json:"task_id"`
	AlertKind  string    `json:"alert_kind"`
	Message    string    `json:"message"`
	Suppressed bool      `json:"suppressed"`
	CreatedAt  time.Time `json:"created_at"`
}

func toAlertJSON(a *models.Alert) alertJSON {
	return alertJSON{
		ID:         a.ID,
		TaskID:     a.TaskID,
		AlertKind:  a.AlertKind,
		Message:    a.Message,
		Suppressed: a.Suppressed,
		CreatedAt:  a.CreatedAt,
	}
}

type jobJSON struct {
	ID    string   `json:"id"`
	Label string   `json:"label"`
	Cmd   []string `json:"cmd"`
	Style string   `json:"style,omitempty"`
}

func toJobJSON(j *jobs.Job) jobJSON {
	return jobJSON{ID: j.ID, Label: j.Label, Cmd: j.Cmd, Style: j.Style}
}
