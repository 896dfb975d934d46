package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/everping/everping/internal/models"
)

// GetAlertState returns the suppression state for (task, kind), or nil when
// no alert of that kind was ever attempted.
func (s *Store) GetAlertState(ctx context.Context, taskID int64, kind string) (*models.AlertState, error) {
	var (
		st         models.AlertState
		lastSentAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, task_id, alert_kind, last_sent_at FROM alert_state WHERE task_id = ? AND alert_kind = ?",
		taskID, kind,
	).Scan(&st.ID, &st.TaskID, &st.AlertKind, &lastSentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert state: %w", err)
	}
	st.LastSentAt = parseTime(lastSentAt)
	return &st, nil
}

// TouchAlertState records now as the last delivery attempt for (task, kind).
func (s *Store) TouchAlertState(ctx context.Context, taskID int64, kind string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_state (task_id, alert_kind, last_sent_at) VALUES (?, ?, ?)
		 ON CONFLICT (task_id, alert_kind) DO UPDATE SET last_sent_at = excluded.last_sent_at`,
		taskID, kind, formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to touch alert state: %w", err)
	}
	return nil
}

// RecordAlert appends one notification attempt to the audit log.
func (s *Store) RecordAlert(ctx context.Context, a *models.Alert) error {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO alerts (task_id, alert_kind, message, suppressed, created_at) VALUES (?, ?, ?, ?, ?)",
		a.TaskID, a.AlertKind, a.Message, boolToInt(a.Suppressed), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read alert id: %w", err)
	}
	a.ID = id
	return nil
}

// ListAlerts returns the most recent alerts, optionally filtered by task.
func (s *Store) ListAlerts(ctx context.Context, taskID int64, limit int) ([]*models.Alert, error) {
	query := "SELECT id, task_id, alert_kind, message, suppressed, created_at FROM alerts"
	var args []any
	if taskID != 0 {
		query += " WHERE task_id = ?"
		args = append(args, taskID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []*models.Alert
	for rows.Next() {
		var (
			a          models.Alert
			suppressed int
			createdAt  sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.TaskID, &a.AlertKind, &a.Message, &suppressed, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Suppressed = suppressed != 0
		a.CreatedAt = parseTime(createdAt)
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}
