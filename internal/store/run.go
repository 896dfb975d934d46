package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/everping/everping/internal/models"
)

const runColumns = "id, task_id, trigger_id, status, scheduled_at, started_at, finished_at, exit_code, stdout_path, stderr_path, error_message"

// EnqueueRun inserts a PENDING run for the task. triggerID may be zero for
// manual enqueues.
func (s *Store) EnqueueRun(ctx context.Context, taskID, triggerID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (task_id, trigger_id, status, scheduled_at) VALUES (?, ?, ?, ?)",
		taskID, nullInt(triggerID), string(models.StatusPending), formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read run id: %w", err)
	}
	return id, nil
}

// ListPendingRunIDs returns up to limit PENDING run ids ordered by
// scheduled_at ascending.
func (s *Store) ListPendingRunIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM runs WHERE status = ? ORDER BY scheduled_at LIMIT ?",
		string(models.StatusPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimRun transitions a run from PENDING to RUNNING. Exactly one caller can
// observe true for a given run; everyone else sees false.
func (s *Store) ClaimRun(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, started_at = ? WHERE id = ? AND status = ?",
		string(models.StatusRunning), formatTime(time.Now()), id, string(models.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// SweepZombieRuns fails RUNNING rows whose started_at is older than maxAge.
// These are runs orphaned by a previous process crash.
func (s *Store) SweepZombieRuns(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-maxAge))
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, finished_at = ?, error_message = ? WHERE status = ? AND started_at < ?",
		string(models.StatusFailed), formatTime(time.Now()), "Zombie run auto-failed", string(models.StatusRunning), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep zombie runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// HasOtherRunning reports whether another run of the same task is RUNNING.
func (s *Store) HasOtherRunning(ctx context.Context, taskID, runID int64) (bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM runs WHERE task_id = ? AND status = ? AND id != ? LIMIT 1",
		taskID, string(models.StatusRunning), runID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check running peers: %w", err)
	}
	return true, nil
}

// FinishRun moves a run to a terminal status, recording the outcome. The
// transition only applies while the run is still RUNNING so terminal states
// never regress.
func (s *Store) FinishRun(ctx context.Context, run *models.Run) error {
	var exitCode any
	if run.HasExitCode {
		exitCode = run.ExitCode
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, exit_code = ?, stdout_path = ?, stderr_path = ?, error_message = ?
		 WHERE id = ? AND status = ?`,
		string(run.Status), formatTime(time.Now()), exitCode,
		nullString(run.StdoutPath), nullString(run.StderrPath), nullString(run.ErrorMessage),
		run.ID, string(models.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return requireRow(res, models.ErrRunNotFound)
}

// GetRun returns the run with the given id.
func (s *Store) GetRun(ctx context.Context, id int64) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	return scanRun(row)
}

// ListRuns returns the most recent runs, optionally filtered by task.
func (s *Store) ListRuns(ctx context.Context, taskID int64, limit int) ([]*models.Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	var args []any
	if taskID != 0 {
		query += " WHERE task_id = ?"
		args = append(args, taskID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CountRunsByStatus returns the number of runs in the given status.
func (s *Store) CountRunsByStatus(ctx context.Context, status models.Status) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE status = ?", string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

// DeleteRun removes a run row. Used for successful monitor runs once their
// metrics are persisted.
func (s *Store) DeleteRun(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return requireRow(res, models.ErrRunNotFound)
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		r                                  models.Run
		triggerID, exitCode                sql.NullInt64
		status                             string
		scheduledAt, startedAt, finishedAt sql.NullString
		stdoutPath, stderrPath, errMessage sql.NullString
	)
	err := row.Scan(&r.ID, &r.TaskID, &triggerID, &status, &scheduledAt, &startedAt, &finishedAt,
		&exitCode, &stdoutPath, &stderrPath, &errMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	r.TriggerID = triggerID.Int64
	r.Status = models.Status(status)
	r.ScheduledAt = parseTime(scheduledAt)
	r.StartedAt = parseTime(startedAt)
	r.FinishedAt = parseTime(finishedAt)
	if exitCode.Valid {
		r.ExitCode = int(exitCode.Int64)
		r.HasExitCode = true
	}
	r.StdoutPath = stdoutPath.String
	r.StderrPath = stderrPath.String
	r.ErrorMessage = errMessage.String
	return &r, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
