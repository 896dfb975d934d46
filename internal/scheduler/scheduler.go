// Package scheduler evaluates triggers and enqueues pending runs. A single
// background loop owns the in-memory schedule; the schedule is rebuilt as a
// whole from the enabled triggers on start and after any trigger mutation.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/everping/everping/internal/holiday"
	"github.com/everping/everping/internal/logger"
	"github.com/everping/everping/internal/models"
	"github.com/everping/everping/internal/store"
)

// tick is the resolution of the evaluator loop. Sub-second trigger
// precision is out of contract.
const tick = time.Second

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Evaluator is the trigger evaluator.
type Evaluator struct {
	store    *store.Store
	oracle   holiday.Oracle
	location *time.Location

	reloadCh chan struct{}
	stopCh   chan struct{}
	running  atomic.Bool

	mu      sync.Mutex
	entries []*entry
}

// entry is one scheduled trigger with its next firing time.
type entry struct {
	triggerID int64
	kind      models.TriggerKind
	schedule  cron.Schedule // cron triggers
	interval  time.Duration // interval and deadline triggers
	next      time.Time
}

// New creates an evaluator using the given holiday oracle and local
// timezone for cron evaluation and calendar gating.
func New(st *store.Store, oracle holiday.Oracle, location *time.Location) *Evaluator {
	return &Evaluator{
		store:    st,
		oracle:   oracle,
		location: location,
		reloadCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the scheduling loop until Stop or context cancellation. The
// loop body never panics out; evaluation errors are logged and the loop
// keeps ticking.
func (e *Evaluator) Start(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.rebuild(ctx)
	logger.Info(ctx, "trigger evaluator started")

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			e.fireDue(ctx, now.In(e.location))

		case <-e.reloadCh:
			e.rebuild(ctx)

		case <-e.stopCh:
			logger.Info(ctx, "trigger evaluator stopped")
			return

		case <-ctx.Done():
			logger.Info(ctx, "trigger evaluator stopped")
			return
		}
	}
}

// Stop terminates the scheduling loop.
func (e *Evaluator) Stop() {
	if e.running.CompareAndSwap(true, false) {
		close(e.stopCh)
	}
}

// Reload requests a schedule rebuild. Called after any trigger mutation.
func (e *Evaluator) Reload() {
	select {
	case e.reloadCh <- struct{}{}:
	default: // rebuild already pending
	}
}

// rebuild replaces the whole in-memory schedule from the enabled triggers.
// Triggers that cannot be scheduled (bad cron expression, zero interval)
// are skipped without crashing the loop.
func (e *Evaluator) rebuild(ctx context.Context) {
	triggers, err := e.store.ListEnabledTriggers(ctx)
	if err != nil {
		logger.Error(ctx, "failed to load triggers for schedule rebuild", "err", err)
		return
	}

	now := time.Now().In(e.location)
	var entries []*entry
	for _, t := range triggers {
		if t.Kind == models.TriggerKindOnce {
			e.fireOnce(ctx, t.ID)
			continue
		}
		en, err := buildEntry(t, now)
		if err != nil {
			logger.Warn(ctx, "skipping unschedulable trigger", "trigger", t.ID, "kind", t.Kind, "err", err)
			continue
		}
		entries = append(entries, en)
	}

	e.mu.Lock()
	e.entries = entries
	e.mu.Unlock()
	logger.Info(ctx, "schedule rebuilt", "triggers", len(entries))
}

func buildEntry(t *models.Trigger, now time.Time) (*entry, error) {
	switch t.Kind {
	case models.TriggerKindCron:
		if len(strings.Fields(t.CronExpr)) != 5 {
			return nil, fmt.Errorf("cron expression must have 5 fields: %q", t.CronExpr)
		}
		schedule, err := cronParser.Parse(t.CronExpr)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", t.CronExpr, err)
		}
		return &entry{triggerID: t.ID, kind: t.Kind, schedule: schedule, next: schedule.Next(now)}, nil

	case models.TriggerKindInterval:
		if t.IntervalSec <= 0 {
			return nil, fmt.Errorf("interval must be positive, got %d", t.IntervalSec)
		}
		interval := time.Duration(t.IntervalSec) * time.Second
		return &entry{triggerID: t.ID, kind: t.Kind, interval: interval, next: now.Add(interval)}, nil

	case models.TriggerKindDeadline:
		cfg, err := models.ParseDeadlineConfig(t.DeadlineConfig)
		if err != nil {
			return nil, err
		}
		hours := cfg.IntervalHours
		if hours < 1 {
			hours = 1
		}
		interval := time.Duration(hours) * time.Hour
		return &entry{triggerID: t.ID, kind: t.Kind, interval: interval, next: now.Add(interval)}, nil

	default:
		return nil, fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
}

// fireDue fires every entry whose next time has arrived and advances it.
func (e *Evaluator) fireDue(ctx context.Context, now time.Time) {
	e.mu.Lock()
	var due []*entry
	for _, en := range e.entries {
		if !en.next.After(now) {
			due = append(due, en)
			en.advance(now)
		}
	}
	e.mu.Unlock()

	for _, en := range due {
		e.fire(ctx, en.triggerID)
	}
}

func (en *entry) advance(now time.Time) {
	if en.schedule != nil {
		en.next = en.schedule.Next(now)
		return
	}
	en.next = now.Add(en.interval)
}

// fire re-reads the trigger and enqueues a run when every gate passes.
func (e *Evaluator) fire(ctx context.Context, triggerID int64) {
	t, err := e.store.GetTrigger(ctx, triggerID)
	if err != nil || !t.Enabled {
		return
	}
	if !holiday.Allowed(e.oracle, t.HolidayPolicy, time.Now().In(e.location)) {
		logger.Debug(ctx, "trigger gated by holiday policy", "trigger", t.ID, "policy", t.HolidayPolicy)
		return
	}
	task, err := e.store.GetTask(ctx, t.TaskID)
	if err != nil || !task.Enabled {
		return
	}
	if t.Kind == models.TriggerKindDeadline && !e.deadlineOpen(ctx, t) {
		return
	}

	if _, err := e.store.EnqueueRun(ctx, task.ID, t.ID); err != nil {
		logger.Error(ctx, "failed to enqueue run", "task", task.Name, "trigger", t.ID, "err", err)
		return
	}
	logger.Debug(ctx, "run enqueued", "task", task.Name, "trigger", t.ID)
}

// fireOnce enqueues a run for a one-shot trigger at rebuild time, then
// disables the trigger. A day forbidden by the holiday policy also
// disables it, matching the one-shot contract.
func (e *Evaluator) fireOnce(ctx context.Context, triggerID int64) {
	t, err := e.store.GetTrigger(ctx, triggerID)
	if err != nil || !t.Enabled {
		return
	}
	defer func() {
		if err := e.store.DisableTrigger(ctx, t.ID); err != nil {
			logger.Error(ctx, "failed to disable one-shot trigger", "trigger", t.ID, "err", err)
		}
	}()

	task, err := e.store.GetTask(ctx, t.TaskID)
	if err != nil || !task.Enabled {
		return
	}
	if !holiday.Allowed(e.oracle, t.HolidayPolicy, time.Now().In(e.location)) {
		return
	}
	if _, err := e.store.EnqueueRun(ctx, task.ID, t.ID); err != nil {
		logger.Error(ctx, "failed to enqueue one-shot run", "task", task.Name, "trigger", t.ID, "err", err)
	}
}

// deadlineOpen checks the deadline window: enqueues happen only while
// deadline−start_before_days ≤ now ≤ deadline. Past the deadline the
// trigger disables itself.
func (e *Evaluator) deadlineOpen(ctx context.Context, t *models.Trigger) bool {
	cfg, err := models.ParseDeadlineConfig(t.DeadlineConfig)
	if err != nil {
		logger.Warn(ctx, "deadline trigger has invalid config", "trigger", t.ID, "err", err)
		return false
	}
	deadline, err := parseLocalTime(cfg.DeadlineAt, e.location)
	if err != nil {
		logger.Warn(ctx, "deadline trigger has invalid deadline_at", "trigger", t.ID, "err", err)
		return false
	}

	now := time.Now().In(e.location)
	start := deadline.AddDate(0, 0, -cfg.StartBeforeDays)
	if now.Before(start) {
		return false
	}
	if now.After(deadline) {
		if err := e.store.DisableTrigger(ctx, t.ID); err != nil {
			logger.Error(ctx, "failed to disable expired deadline trigger", "trigger", t.ID, "err", err)
		} else {
			logger.Info(ctx, "deadline passed, trigger disabled", "trigger", t.ID)
		}
		return false
	}
	return true
}

// parseLocalTime accepts ISO-8601 timestamps with or without a zone;
// naive timestamps are interpreted in the configured local timezone.
func parseLocalTime(value string, location *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		time.DateOnly,
	} {
		if ts, err := time.ParseInLocation(layout, value, location); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
