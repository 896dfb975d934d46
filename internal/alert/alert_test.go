package alert

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

func newTestEngine(t *testing.T, suppressSec int) (*Engine, *store.Store, *[]string) {
	t.Helper()
	st, err := store.New(context.Background(), filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	eng := New(st, suppressSec, Push{Script: "/bin/true", Title: "t", Group: "g", Level: "l"})
	var delivered []string
	eng.SetNotifier(func(_ context.Context, message string) {
		delivered = append(delivered, message)
	})
	return eng, st, &delivered
}

func createAlertTask(t *testing.T, st *store.Store, name string) *models.Task {
	t.Helper()
	ctx := context.Background()
	id, err := st.CreateTask(ctx, &models.Task{
		Name: name, Type: models.TaskTypeSchedule, CommandTemplate: "true", Enabled: true,
	})
	require.NoError(t, err)
	task, err := st.GetTask(ctx, id)
	require.NoError(t, err)
	return task
}

func TestRaiseDeliversFirstAndSuppressesRepeat(t *testing.T) {
	t.Parallel()

	eng, st, delivered := newTestEngine(t, 900)
	ctx := context.Background()
	task := createAlertTask(t, st, "flaky")

	assert.True(t, eng.Raise(ctx, task, models.AlertKindExecFailed, "flaky: boom"))
	assert.False(t, eng.Raise(ctx, task, models.AlertKindExecFailed, "flaky: boom again"))
	assert.Equal(t, []string{"flaky: boom"}, *delivered)

	// Both attempts are on record, the second marked suppressed.
	alerts, err := st.ListAlerts(ctx, task.ID, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	suppressedCount := 0
	for _, a := range alerts {
		if a.Suppressed {
			suppressedCount++
		}
	}
	assert.Equal(t, 1, suppressedCount)
}

func TestRaiseSuppressionIsPerKind(t *testing.T) {
	t.Parallel()

	eng, st, delivered := newTestEngine(t, 900)
	ctx := context.Background()
	task := createAlertTask(t, st, "multi")

	assert.True(t, eng.Raise(ctx, task, models.AlertKindExecFailed, "multi: failed"))
	assert.True(t, eng.Raise(ctx, task, models.AlertKindReentry, "multi: reentry"))
	assert.Len(t, *delivered, 2, "different kinds do not share a window")
}

func TestRaiseSuppressionIsPerTask(t *testing.T) {
	t.Parallel()

	eng, st, delivered := newTestEngine(t, 900)
	ctx := context.Background()
	a := createAlertTask(t, st, "task-a")
	b := createAlertTask(t, st, "task-b")

	assert.True(t, eng.Raise(ctx, a, models.AlertKindExecFailed, "a: failed"))
	assert.True(t, eng.Raise(ctx, b, models.AlertKindExecFailed, "b: failed"))
	assert.Len(t, *delivered, 2)
}

func TestRaiseDeliversAgainAfterWindow(t *testing.T) {
	t.Parallel()

	eng, st, delivered := newTestEngine(t, 900)
	ctx := context.Background()
	task := createAlertTask(t, st, "expired")

	assert.True(t, eng.Raise(ctx, task, models.AlertKindExecFailed, "expired: one"))

	// Age the state past the window.
	stale := time.Now().Add(-time.Hour)
	require.NoError(t, st.TouchAlertState(ctx, task.ID, models.AlertKindExecFailed, stale))

	assert.True(t, eng.Raise(ctx, task, models.AlertKindExecFailed, "expired: two"))
	assert.Equal(t, []string{"expired: one", "expired: two"}, *delivered)
}

func TestMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "backup: exit code 3", Message("backup", "exit code %d", 3))
}
