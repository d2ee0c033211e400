package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UpsertTask saves or updates a task row, idempotent by task_id. The
// version guard keeps a delayed write from clobbering a newer one.
func (c *Client) UpsertTask(ctx context.Context, task *TaskRecord) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO tasks (
			id, task_id, query, stage, status, version, degraded,
			error_kind, error_message, metadata, started_at, completed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (task_id) DO UPDATE SET
			stage = EXCLUDED.stage,
			status = EXCLUDED.status,
			version = EXCLUDED.version,
			degraded = EXCLUDED.degraded,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			metadata = CASE
				WHEN EXCLUDED.metadata IS NULL THEN tasks.metadata
				ELSE EXCLUDED.metadata
			END,
			completed_at = EXCLUDED.completed_at
		WHERE tasks.version <= EXCLUDED.version
		RETURNING id`

	err := c.db.QueryRowContext(ctx, query,
		task.ID, task.TaskID, task.Query, task.Stage, task.Status,
		task.Version, task.Degraded, task.ErrorKind, task.ErrorMsg,
		task.Metadata, task.StartedAt, task.CompletedAt, task.CreatedAt,
	).Scan(&task.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	c.logger.Debug("Task row saved",
		zap.String("task_id", task.TaskID),
		zap.String("status", task.Status),
		zap.Int("version", task.Version),
	)
	return nil
}

// SaveTransition appends one row to the transition audit log. Replayed
// versions are deduplicated by the (task_id, version) key.
func (c *Client) SaveTransition(ctx context.Context, tr *TransitionRecord) error {
	if tr == nil {
		return nil
	}
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	if tr.Timestamp.IsZero() {
		tr.Timestamp = time.Now()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO task_transitions (
			id, task_id, version, stage, status, timestamp, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id, version) DO NOTHING
	`, tr.ID, tr.TaskID, tr.Version, tr.Stage, tr.Status, tr.Timestamp, tr.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save transition: %w", err)
	}
	return nil
}

// GetTask fetches the task row by its caller-supplied id.
func (c *Client) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	var task TaskRecord
	err := c.db.GetContext(ctx, &task, `
		SELECT id, task_id, query, stage, status, version, degraded,
		       error_kind, error_message, metadata, started_at, completed_at, created_at
		FROM tasks WHERE task_id = $1
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task %q: %w", taskID, err)
	}
	return &task, nil
}

// ListTransitions returns the transition log for a task in version order.
func (c *Client) ListTransitions(ctx context.Context, taskID string) ([]TransitionRecord, error) {
	var rows []TransitionRecord
	err := c.db.SelectContext(ctx, &rows, `
		SELECT id, task_id, version, stage, status, timestamp, created_at
		FROM task_transitions WHERE task_id = $1 ORDER BY version ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions for %q: %w", taskID, err)
	}
	return rows, nil
}
