package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/everping/everping/internal/models"
)

const taskColumns = "id, name, type, job_id, command_template, timeout_sec, enabled, remark, created_at, updated_at"

// CreateTask inserts a new task and returns its id.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (name, type, job_id, command_template, timeout_sec, enabled, remark, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, string(t.Type), t.JobID, t.CommandTemplate, t.TimeoutSec, boolToInt(t.Enabled), t.Remark, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, models.ErrDuplicateTask
		}
		return 0, fmt.Errorf("failed to create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read task id: %w", err)
	}
	t.ID = id
	return id, nil
}

// GetTask returns the task with the given id.
func (s *Store) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	return scanTask(row)
}

// GetTaskByName returns the task with the given unique name.
func (s *Store) GetTaskByName(ctx context.Context, name string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE name = ?", name)
	return scanTask(row)
}

// ListTasks returns all tasks ordered by name.
func (s *Store) ListTasks(ctx context.Context) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask rewrites the mutable fields of a task.
func (s *Store) UpdateTask(ctx context.Context, t *models.Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET name = ?, type = ?, job_id = ?, command_template = ?,
		 timeout_sec = ?, enabled = ?, remark = ?, updated_at = ? WHERE id = ?`,
		t.Name, string(t.Type), t.JobID, t.CommandTemplate,
		t.TimeoutSec, boolToInt(t.Enabled), t.Remark, formatTime(time.Now()), t.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicateTask
		}
		return fmt.Errorf("failed to update task: %w", err)
	}
	return requireRow(res, models.ErrTaskNotFound)
}

// DeleteTask removes a task; triggers and runs cascade.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return requireRow(res, models.ErrTaskNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t                    models.Task
		typ                  string
		enabled              int
		createdAt, updatedAt sql.NullString
	)
	err := row.Scan(&t.ID, &t.Name, &typ, &t.JobID, &t.CommandTemplate, &t.TimeoutSec, &enabled, &t.Remark, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Type = models.TaskType(typ)
	t.Enabled = enabled != 0
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
