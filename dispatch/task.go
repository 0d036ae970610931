// Package dispatch runs background work from a durable task table. Each task has a
// dedup key and at most one pending or running task exists per (kind, key).
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind is the type of work a task carries.
type Kind string

const (
	KindReview  Kind = "review"
	KindReply   Kind = "reply"
	KindOnboard Kind = "onboard"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status ends the task's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrTaskNotFound is returned by stores for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// Task is one unit of background work. A review task is a review run.
type Task struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	DedupKey   string          `json:"dedup_key"`
	Repo       string          `json:"repo"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     Status          `json:"status"`
	Error      string          `json:"error,omitempty"`
	DeliveryID string          `json:"delivery_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// NewTask builds a pending task with a JSON-encoded payload.
func NewTask(kind Kind, dedupKey, repo string, payload any) (*Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return &Task{
		Kind:     kind,
		DedupKey: dedupKey,
		Repo:     repo,
		Payload:  data,
		Status:   StatusPending,
	}, nil
}

// Decode unmarshals the task payload into v.
func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload of task %s: %w", t.Kind, t.ID, err)
	}
	return nil
}

// Store persists tasks. Enqueue is the atomic check-and-record of the dedup key.
type Store interface {
	// Enqueue inserts a pending task. It returns false without inserting when a
	// pending or running task with the same kind and dedup key exists.
	Enqueue(ctx context.Context, task *Task) (bool, error)
	// Claim moves the oldest pending task to running and returns it, or nil when
	// nothing is pending.
	Claim(ctx context.Context) (*Task, error)
	// Finish records a terminal status.
	Finish(ctx context.Context, id string, status Status, errMsg string) error
	// Get returns a task by id.
	Get(ctx context.Context, id string) (*Task, error)
	// ListRunning returns tasks left in the running state.
	ListRunning(ctx context.Context) ([]Task, error)
	// ListByRepo returns the newest tasks of a repository.
	ListByRepo(ctx context.Context, repo string, limit int) ([]Task, error)
}
