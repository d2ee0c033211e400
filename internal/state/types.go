package state

import (
	"time"
)

// Status is the task-level lifecycle status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Patch is a partial payload update produced by a single node execution.
// Each node writes only under its own namespaced key.
type Patch map[string]interface{}

// Quality tracks the revision-loop outcome for a task.
type Quality struct {
	RevisionCount int     `json:"revision_count"`
	LastScore     float64 `json:"last_score"`
	Approved      bool    `json:"approved"`
}

// Control carries cooperative-cancellation and failure information.
type Control struct {
	Cancelled bool         `json:"cancelled"`
	Error     *ErrorRecord `json:"error,omitempty"`
}

// ErrorRecord describes a task-level failure in a structured way.
type ErrorRecord struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	NodeID    string    `json:"node_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskState is an immutable snapshot of a task. Snapshots are write-once;
// every transition produces a new snapshot with Version+1.
type TaskState struct {
	TaskID    string                 `json:"task_id"`
	Version   int                    `json:"version"`
	Stage     string                 `json:"stage"`
	Status    Status                 `json:"status"`
	Payload   map[string]interface{} `json:"payload"`
	Quality   Quality                `json:"quality"`
	Control   Control                `json:"control"`
	Degraded  bool                   `json:"degraded"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Get returns the payload value stored under key.
func (ts TaskState) Get(key string) (interface{}, bool) {
	v, ok := ts.Payload[key]
	return v, ok
}

// Transition describes one state change. Zero-value fields are left
// untouched on the new snapshot.
type Transition struct {
	Stage    string
	Status   Status
	Patch    Patch
	Quality  *Quality
	Error    *ErrorRecord
	Degraded bool
	Cancel   bool
}

// TransitionEvent is emitted to the event sink on every version bump.
type TransitionEvent struct {
	TaskID    string    `json:"task_id"`
	Version   int       `json:"version"`
	Stage     string    `json:"stage"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// clonePayload returns a copy of the payload map. Values are treated as
// immutable once written, so a top-level copy is sufficient to keep old
// snapshots from observing later writes.
func clonePayload(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
