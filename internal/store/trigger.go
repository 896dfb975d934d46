package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/everping/everping/internal/models"
)

const triggerColumns = "id, task_id, kind, cron_expr, interval_sec, deadline_config, holiday_policy, enabled"

// CreateTrigger inserts a new trigger and returns its id.
func (s *Store) CreateTrigger(ctx context.Context, t *models.Trigger) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO triggers (task_id, kind, cron_expr, interval_sec, deadline_config, holiday_policy, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, string(t.Kind), t.CronExpr, t.IntervalSec, t.DeadlineConfig, string(t.HolidayPolicy), boolToInt(t.Enabled),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create trigger: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read trigger id: %w", err)
	}
	t.ID = id
	return id, nil
}

// GetTrigger returns the trigger with the given id.
func (s *Store) GetTrigger(ctx context.Context, id int64) (*models.Trigger, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+triggerColumns+" FROM triggers WHERE id = ?", id)
	return scanTrigger(row)
}

// ListTriggers returns all triggers of a task. A zero taskID lists every trigger.
func (s *Store) ListTriggers(ctx context.Context, taskID int64) ([]*models.Trigger, error) {
	query := "SELECT " + triggerColumns + " FROM triggers"
	var args []any
	if taskID != 0 {
		query += " WHERE task_id = ?"
		args = append(args, taskID)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectTriggers(rows)
}

// ListEnabledTriggers returns every enabled trigger, for schedule rebuilds.
func (s *Store) ListEnabledTriggers(ctx context.Context) ([]*models.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+triggerColumns+" FROM triggers WHERE enabled = 1 ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled triggers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectTriggers(rows)
}

// UpdateTrigger rewrites the mutable fields of a trigger.
func (s *Store) UpdateTrigger(ctx context.Context, t *models.Trigger) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE triggers SET kind = ?, cron_expr = ?, interval_sec = ?, deadline_config = ?,
		 holiday_policy = ?, enabled = ? WHERE id = ?`,
		string(t.Kind), t.CronExpr, t.IntervalSec, t.DeadlineConfig, string(t.HolidayPolicy), boolToInt(t.Enabled), t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update trigger: %w", err)
	}
	return requireRow(res, models.ErrTriggerNotFound)
}

// DisableTrigger flips a trigger off, e.g. when its deadline has passed.
func (s *Store) DisableTrigger(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE triggers SET enabled = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to disable trigger: %w", err)
	}
	return requireRow(res, models.ErrTriggerNotFound)
}

// DeleteTrigger removes a trigger.
func (s *Store) DeleteTrigger(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM triggers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}
	return requireRow(res, models.ErrTriggerNotFound)
}

func scanTrigger(row rowScanner) (*models.Trigger, error) {
	var (
		t            models.Trigger
		kind, policy string
		enabled      int
	)
	err := row.Scan(&t.ID, &t.TaskID, &kind, &t.CronExpr, &t.IntervalSec, &t.DeadlineConfig, &policy, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTriggerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trigger: %w", err)
	}
	t.Kind = models.TriggerKind(kind)
	t.HolidayPolicy = models.HolidayPolicy(policy)
	t.Enabled = enabled != 0
	return &t, nil
}

func collectTriggers(rows *sql.Rows) ([]*models.Trigger, error) {
	var triggers []*models.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}
