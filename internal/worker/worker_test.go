//go:build !windows

package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everping/everping/internal/alert"
	"github.com/everping/everping/internal/engine"
	"github.com/everping/everping/internal/jobs"
	"github.com/everping/everping/internal/metricsio"
	"github.com/everping/everping/internal/models"
	"github.com/everping/everping/internal/runlog"
	"github.com/everping/everping/internal/store"
)

func newTestPool(t *testing.T, maxWorkers int) (*Pool, *store.Store) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.New(ctx, filepath.Join(dir, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	jobsPath := filepath.Join(dir, "jobs.json")
	require.NoError(t, os.WriteFile(jobsPath, []byte("[]"), 0600))

	alerts := alert.New(st, 900, alert.Push{})
	alerts.SetNotifier(func(context.Context, string) {})

	eng := engine.New(st, jobs.NewRegistry(jobsPath), alerts,
		runlog.NewWriter(filepath.Join(dir, "logs"), time.UTC, 7),
		metricsio.NewWriter(filepath.Join(dir, "metrics"), time.UTC, 30),
		10, 3600)
	return New(st, eng, maxWorkers), st
}

func TestPoolExecutesPendingRuns(t *testing.T) {
	t.Parallel()

	pool, st := newTestPool(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := st.CreateTask(ctx, &models.Task{
		Name: "pooled", Type: models.TaskTypeSchedule, CommandTemplate: "echo ran", Enabled: true,
	})
	require.NoError(t, err)

	var runIDs []int64
	for i := 0; i < 3; i++ {
		runID, err := st.EnqueueRun(ctx, id, 0)
		require.NoError(t, err)
		runIDs = append(runIDs, runID)
	}

	go pool.Start(ctx)
	defer pool.Stop(context.Background())

	require.Eventually(t, func() bool {
		for _, runID := range runIDs {
			run, err := st.GetRun(ctx, runID)
			if err != nil || !run.Status.IsTerminal() {
				return false
			}
		}
		return true
	}, 10*time.Second, 100*time.Millisecond)

	for _, runID := range runIDs {
		run, err := st.GetRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSuccess, run.Status)
	}
}

func TestPoolStopWaitsForInFlight(t *testing.T) {
	t.Parallel()

	pool, st := newTestPool(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, err := st.CreateTask(ctx, &models.Task{
		Name: "draining", Type: models.TaskTypeSchedule, CommandTemplate: "sleep 2", Enabled: true,
	})
	require.NoError(t, err)
	runID, err := st.EnqueueRun(ctx, id, 0)
	require.NoError(t, err)

	go pool.Start(ctx)

	require.Eventually(t, func() bool {
		run, err := st.GetRun(ctx, runID)
		return err == nil && run.Status == models.StatusRunning
	}, 5*time.Second, 50*time.Millisecond)

	// Stop blocks until the sleeping child finishes and its state commits.
	pool.Stop(context.Background())

	run, err := st.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, run.Status)
}

func TestNewClampsWorkers(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, 0)
	assert.Equal(t, 1, pool.maxWorkers)
}
