package frontend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/everping/everping/internal/build"
	"github.com/everping/everping/internal/models"
	"github.com/everping/everping/internal/sysinfo"
)

const defaultListLimit = 100

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": build.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSysinfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sysinfo.Collect(r.Context()))
}

type taskRequest struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	JobID           string `json:"job_id"`
	CommandTemplate string `json:"command_template"`
	TimeoutSec      int    `json:"timeout_sec"`
	Enabled         *bool  `json:"enabled"`
	Remark          string `json:"remark"`
}

func (req *taskRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("%w: name is required", errBadRequest)
	}
	switch models.TaskType(req.Type) {
	case models.TaskTypeSchedule, models.TaskTypeMonitor:
	default:
		return fmt.Errorf("%w: unknown task type %q", errBadRequest, req.Type)
	}
	if req.JobID == "" && strings.TrimSpace(req.CommandTemplate) == "" {
		return fmt.Errorf("%w: either job_id or command_template is required", errBadRequest)
	}
	return nil
}

func (req *taskRequest) apply(t *models.Task) {
	t.Name = strings.TrimSpace(req.Name)
	t.Type = models.TaskType(req.Type)
	t.JobID = req.JobID
	t.CommandTemplate = req.CommandTemplate
	t.TimeoutSec = req.TimeoutSec
	t.Remark = req.Remark
	if req.Enabled != nil {
		t.Enabled = *req.Enabled
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]taskJSON, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	task := &models.Task{Enabled: true}
	req.apply(task)
	id, err := s.store.CreateTask(r.Context(), task)
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskJSON(created))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskJSON(task))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req taskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	req.apply(task)
	if err := s.store.UpdateTask(r.Context(), task); err != nil {
		writeError(w, err)
		return
	}
	s.evaluator.Reload()
	writeJSON(w, http.StatusOK, toTaskJSON(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteTask(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.evaluator.Reload()
	w.WriteHeader(http.StatusNoContent)
}

// handleRunTask enqueues a manual run for the task.
func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "taskID")
	if err != nil {
		writeError(w, err)
		return
	}
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	runID, err := s.store.EnqueueRun(r.Context(), task.ID, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"run_id": runID})
}

type triggerRequest struct {
	TaskID         int64           `json:"task_id"`
	Kind           string          `json:"kind"`
	CronExpr       string          `json:"cron_expr"`
	IntervalSec    int             `json:"interval_sec"`
	DeadlineConfig json.RawMessage `json:"deadline_config"`
	HolidayPolicy  string          `json:"holiday_policy"`
	Enabled        *bool           `json:"enabled"`
}

func (req *triggerRequest) validate() error {
	switch models.TriggerKind(req.Kind) {
	case models.TriggerKindCron:
		if len(strings.Fields(req.CronExpr)) != 5 {
			return fmt.Errorf("%w: cron expression must have 5 fields", errBadRequest)
		}
	case models.TriggerKindInterval:
		if req.IntervalSec <= 0 {
			return fmt.Errorf("%w: interval_sec must be positive", errBadRequest)
		}
	case models.TriggerKindDeadline:
		if _, err := models.ParseDeadlineConfig(string(req.DeadlineConfig)); err != nil {
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
	case models.TriggerKindOnce:
	default:
		return fmt.Errorf("%w: unknown trigger kind %q", errBadRequest, req.Kind)
	}

	switch models.HolidayPolicy(req.HolidayPolicy) {
	case "", models.HolidayPolicyNone, models.HolidayPolicyCNWorkdayOnly,
		models.HolidayPolicySkipCNHoliday, models.HolidayPolicySkipCNWorkday:
	default:
		return fmt.Errorf("%w: unknown holiday policy %q", errBadRequest, req.HolidayPolicy)
	}
	return nil
}

func (req *triggerRequest) apply(t *models.Trigger) {
	t.Kind = models.TriggerKind(req.Kind)
	t.CronExpr = req.CronExpr
	t.IntervalSec = req.IntervalSec
	t.DeadlineConfig = string(req.DeadlineConfig)
	t.HolidayPolicy = models.HolidayPolicy(req.HolidayPolicy)
	if t.HolidayPolicy == "" {
		t.HolidayPolicy = models.HolidayPolicyNone
	}
	if req.Enabled != nil {
		t.Enabled = *req.Enabled
	}
}

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathID(r, "taskID")
	if err != nil {
		writeError(w, err)
		return
	}
	triggers, err := s.store.ListTriggers(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]triggerJSON, 0, len(triggers))
	for _, t := range triggers {
		out = append(out, toTriggerJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.store.GetTask(r.Context(), req.TaskID); err != nil {
		writeError(w, err)
		return
	}

	trigger := &models.Trigger{TaskID: req.TaskID, Enabled: true}
	req.apply(trigger)
	id, err := s.store.CreateTrigger(r.Context(), trigger)
	if err != nil {
		writeError(w, err)
		return
	}
	trigger.ID = id
	s.evaluator.Reload()
	writeJSON(w, http.StatusCreated, toTriggerJSON(trigger))
}

func (s *Server) handleUpdateTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "triggerID")
	if err != nil {
		writeError(w, err)
		return
	}
	trigger, err := s.store.GetTrigger(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req triggerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}
	req.apply(trigger)
	if err := s.store.UpdateTrigger(r.Context(), trigger); err != nil {
		writeError(w, err)
		return
	}
	s.evaluator.Reload()
	writeJSON(w, http.StatusOK, toTriggerJSON(trigger))
}

func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "triggerID")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.DeleteTrigger(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.evaluator.Reload()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	taskID, err := optionalPathID(r, "taskID")
	if err != nil {
		writeError(w, err)
		return
	}
	runs, err := s.store.ListRuns(r.Context(), taskID, queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunJSON(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	list := s.catalogue.List()
	out := make([]jobJSON, 0, len(list))
	for _, j := range list {
		out = append(out, toJobJSON(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  out,
		"error": s.catalogue.LastError(),
	})
}

func (s *Server) handleReloadJobs(w http.ResponseWriter, r *http.Request) {
	if err := s.catalogue.Reload(); err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "kept last snapshot", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	taskID, err := optionalPathID(r, "taskID")
	if err != nil {
		writeError(w, err)
		return
	}
	alerts, err := s.store.ListAlerts(r.Context(), taskID, queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]alertJSON, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertJSON(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return id, nil
}

// optionalPathID returns 0 when the route carries no such parameter.
func optionalPathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return 0, nil
	}
	return pathID(r, name)
}

func queryLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}
