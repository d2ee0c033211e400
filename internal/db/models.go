package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// TaskRecord is the tasks-table row: one row per task, updated in place
// as the task progresses. task_id is the caller-supplied identifier and
// the upsert key.
type TaskRecord struct {
	ID          uuid.UUID  `db:"id"`
	TaskID      string     `db:"task_id"`
	Query       string     `db:"query"`
	Stage       string     `db:"stage"`
	Status      string     `db:"status"`
	Version     int        `db:"version"`
	Degraded    bool       `db:"degraded"`
	ErrorKind   *string    `db:"error_kind"`
	ErrorMsg    *string    `db:"error_message"`
	Metadata    JSONB      `db:"metadata"`
	StartedAt   time.Time  `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	CreatedAt   time.Time  `db:"created_at"`
}

// TransitionRecord is the task_transitions-table row: the append-only
// audit log of every state version.
type TransitionRecord struct {
	ID        uuid.UUID `db:"id"`
	TaskID    string    `db:"task_id"`
	Version   int       `db:"version"`
	Stage     string    `db:"stage"`
	Status    string    `db:"status"`
	Timestamp time.Time `db:"timestamp"`
	CreatedAt time.Time `db:"created_at"`
}
