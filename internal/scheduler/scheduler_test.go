package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everping/everping/internal/models"
	"github.com/everping/everping/internal/store"
)

// fixedOracle always answers the same.
type fixedOracle struct {
	workday bool
	ok      bool
}

func (o fixedOracle) IsWorkday(time.Time) (bool, bool) { return o.workday, o.ok }

func newTestEvaluator(t *testing.T, workday bool) (*Evaluator, *store.Store) {
	t.Helper()
	st, err := store.New(context.Background(), filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, fixedOracle{workday: workday, ok: true}, time.UTC), st
}

func createSchedTask(t *testing.T, st *store.Store, name string, enabled bool) *models.Task {
	t.Helper()
	ctx := context.Background()
	id, err := st.CreateTask(ctx, &models.Task{
		Name: name, Type: models.TaskTypeSchedule, CommandTemplate: "true", Enabled: enabled,
	})
	require.NoError(t, err)
	task, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	return task
}

func createSchedTrigger(t *testing.T, st *store.Store, trigger *models.Trigger) *models.Trigger {
	t.Helper()
	id, err := st.CreateTrigger(context.Background(), trigger)
	require.NoError(t, err)
	got, err := st.GetTrigger(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestBuildEntryCron(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 16, 10, 30, 0, 0, time.UTC)
	en, err := buildEntry(&models.Trigger{ID: 1, Kind: models.TriggerKindCron, CronExpr: "0 12 * * *"}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC), en.next)

	// Next firing advances from the previous one.
	en.advance(en.next)
	assert.Equal(t, time.Date(2025, 6, 17, 12, 0, 0, 0, time.UTC), en.next)
}

func TestBuildEntryCronRejects(t *testing.T) {
	t.Parallel()

	now := time.Now()
	_, err := buildEntry(&models.Trigger{Kind: models.TriggerKindCron, CronExpr: "0 0 12 * * *"}, now)
	assert.Error(t, err, "6-field expressions are rejected")

	_, err = buildEntry(&models.Trigger{Kind: models.TriggerKindCron, CronExpr: "not a cron at all!"}, now)
	assert.Error(t, err)

	_, err = buildEntry(&models.Trigger{Kind: models.TriggerKindCron, CronExpr: "61 * * * *"}, now)
	assert.Error(t, err)
}

func TestBuildEntryInterval(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	en, err := buildEntry(&models.Trigger{Kind: models.TriggerKindInterval, IntervalSec: 30}, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Second), en.next)

	_, err = buildEntry(&models.Trigger{Kind: models.TriggerKindInterval, IntervalSec: 0}, now)
	assert.Error(t, err)
}

func TestBuildEntryDeadline(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	en, err := buildEntry(&models.Trigger{
		Kind:           models.TriggerKindDeadline,
		DeadlineConfig: `{"deadline_at": "2025-06-20", "interval_hours": 6}`,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(6*time.Hour), en.next)

	// interval_hours below 1 clamps to hourly probing.
	en, err = buildEntry(&models.Trigger{
		Kind:           models.TriggerKindDeadline,
		DeadlineConfig: `{"deadline_at": "2025-06-20", "interval_hours": 0}`,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), en.next)

	_, err = buildEntry(&models.Trigger{Kind: models.TriggerKindDeadline, DeadlineConfig: ""}, now)
	assert.Error(t, err)
}

func TestBuildEntryUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := buildEntry(&models.Trigger{Kind: "lunar"}, time.Now())
	assert.Error(t, err)
}

func TestParseLocalTime(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	ts, err := parseLocalTime("2025-06-20T18:00:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 20, 18, 0, 0, 0, loc), ts)

	ts, err = parseLocalTime("2025-06-20 18:00", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 20, 18, 0, 0, 0, loc), ts)

	ts, err = parseLocalTime("2025-06-20", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 20, 0, 0, 0, 0, loc), ts)

	_, err = parseLocalTime("next thursday", loc)
	assert.Error(t, err)
}

func TestFireEnqueuesRun(t *testing.T) {
	t.Parallel()

	ev, st := newTestEvaluator(t, true)
	ctx := context.Background()
	task := createSchedTask(t, st, "fired", true)
	trigger := createSchedTrigger(t, st, &models.Trigger{
		TaskID: task.ID, Kind: models.TriggerKindInterval, IntervalSec: 30, Enabled: true,
	})

	ev.fire(ctx, trigger.ID)

	ids, err := st.ListPendingRunIDs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	run, err := st.GetRun(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, task.ID, run.TaskID)
	assert.Equal(t, trigger.ID, run.TriggerID)
}

func TestFireGates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("disabled trigger", func(t *testing.T) {
		t.Parallel()
		ev, st := newTestEvaluator(t, true)
		task := createSchedTask(t, st, "gated", true)
		trigger := createSchedTrigger(t, st, &models.Trigger{
			TaskID: task.ID, Kind: models.TriggerKindInterval, IntervalSec: 30, Enabled: false,
		})
		ev.fire(ctx, trigger.ID)
		ids, err := st.ListPendingRunIDs(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("disabled task", func(t *testing.T) {
		t.Parallel()
		ev, st := newTestEvaluator(t, true)
		task := createSchedTask(t, st, "gated", false)
		trigger := createSchedTrigger(t, st, &models.Trigger{
			TaskID: task.ID, Kind: models.TriggerKindInterval, IntervalSec: 30, Enabled: true,
		})
		ev.fire(ctx, trigger.ID)
		ids, err := st.ListPendingRunIDs(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("holiday policy blocks", func(t *testing.T) {
		t.Parallel()
		ev, st := newTestEvaluator(t, false) // rest day
		task := createSchedTask(t, st, "gated", true)
		trigger := createSchedTrigger(t, st, &models.Trigger{
			TaskID: task.ID, Kind: models.TriggerKindInterval, IntervalSec: 30,
			HolidayPolicy: models.HolidayPolicyCNWorkdayOnly, Enabled: true,
		})
		ev.fire(ctx, trigger.ID)
		ids, err := st.ListPendingRunIDs(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestDeadlineWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	day := func(offset int) string {
		return time.Now().UTC().AddDate(0, 0, offset).Format("2006-01-02T15:04:05")
	}

	t.Run("before window", func(t *testing.T) {
		t.Parallel()
		ev, st := newTestEvaluator(t, true)
		task := createSchedTask(t, st, "deadline", true)
		trigger := createSchedTrigger(t, st, &models.Trigger{
			TaskID: task.ID, Kind: models.TriggerKindDeadline,
			DeadlineConfig: `{"deadline_at": "` + day(10) + `", "start_before_days": 1, "interval_hours": 6}`,
			Enabled:        true,
		})
		assert.False(t, ev.deadlineOpen(ctx, trigger))
		got, err := st.GetTrigger(ctx, trigger.ID)
		require.NoError(t, err)
		assert.True(t, got.Enabled, "not yet due, trigger stays enabled")
	})

	t.Run("inside window", func(t *testing.T) {
		t.Parallel()
		ev, st := newTestEvaluator(t, true)
		task := createSchedTask(t, st, "deadline", true)
		trigger := createSchedTrigger(t, st, &models.Trigger{
			TaskID: task.ID, Kind: models.TriggerKindDeadline,
			DeadlineConfig: `{"deadline_at": "` + day(1) + `", "start_before_days": 3, "interval_hours": 6}`,
			Enabled:        true,
		})
		assert.True(t, ev.deadlineOpen(ctx, trigger))
	})

	t.Run("past deadline disables", func(t *testing.T) {
		t.Parallel()
		ev, st := newTestEvaluator(t, true)
		task := createSchedTask(t, st, "deadline", true)
		trigger := createSchedTrigger(t, st, &models.Trigger{
			TaskID: task.ID, Kind: models.TriggerKindDeadline,
			DeadlineConfig: `{"deadline_at": "` + day(-1) + `", "start_before_days": 3, "interval_hours": 6}`,
			Enabled:        true,
		})
		assert.False(t, ev.deadlineOpen(ctx, trigger))
		got, err := st.GetTrigger(ctx, trigger.ID)
		require.NoError(t, err)
		assert.False(t, got.Enabled, "expired deadline disables the trigger")
	})

	t.Run("invalid config", func(t *testing.T) {
		t.Parallel()
		ev, st := newTestEvaluator(t, true)
		task := createSchedTask(t, st, "deadline", true)
		trigger := createSchedTrigger(t, st, &models.Trigger{
			TaskID: task.ID, Kind: models.TriggerKindDeadline, DeadlineConfig: "{broken", Enabled: true,
		})
		assert.False(t, ev.deadlineOpen(ctx, trigger))
	})
}

func TestFireOnce(t *testing.T) {
	t.Parallel()

	ev, st := newTestEvaluator(t, true)
	ctx := context.Background()
	task := createSchedTask(t, st, "oneshot", true)
	trigger := createSchedTrigger(t, st, &models.Trigger{
		TaskID: task.ID, Kind: models.TriggerKindOnce, Enabled: true,
	})

	ev.fireOnce(ctx, trigger.ID)

	ids, err := st.ListPendingRunIDs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	got, err := st.GetTrigger(ctx, trigger.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled, "one-shot trigger disables after firing")

	// Firing again does nothing.
	ev.fireOnce(ctx, trigger.ID)
	ids, err = st.ListPendingRunIDs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestRebuildSkipsBadTriggers(t *testing.T) {
	t.Parallel()

	ev, st := newTestEvaluator(t, true)
	ctx := context.Background()
	task := createSchedTask(t, st, "mixed", true)
	createSchedTrigger(t, st, &models.Trigger{
		TaskID: task.ID, Kind: models.TriggerKindInterval, IntervalSec: 30, Enabled: true,
	})
	createSchedTrigger(t, st, &models.Trigger{
		TaskID: task.ID, Kind: models.TriggerKindCron, CronExpr: "bad", Enabled: true,
	})

	ev.rebuild(ctx)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	assert.Len(t, ev.entries, 1, "unschedulable trigger is skipped")
}
